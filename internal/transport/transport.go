// Package transport defines the outbound delivery contract and classifies
// delivery errors into "credential invalid" (recipient must re-register)
// versus everything else (bounded retry).
package transport

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Address is one recipient's delivery credential + channel.
type Address struct {
	Token  string // per-recipient bot credential; never logged
	ChatID int64
}

// MessageRef identifies a posted message so replies can thread under it.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Adapter posts messages on behalf of a recipient's own credential.
// PostReply requires the parent to exist first; the orchestrator therefore
// posts the main message and its replies strictly sequentially.
type Adapter interface {
	PostMessage(ctx context.Context, addr Address, text string) (MessageRef, error)
	PostReply(ctx context.Context, addr Address, text string, parent MessageRef) (MessageRef, error)
}

type FailureClass int

const (
	// FailOther covers transient and unknown failures; worth a bounded retry.
	FailOther FailureClass = iota
	// FailCredential means the recipient's credential is invalid or revoked;
	// retrying is pointless until they re-register.
	FailCredential
)

// credentialSignatures are the API error descriptions that mean the
// credential itself is dead, not the network.
var credentialSignatures = []string{
	"unauthorized",
	"bot was blocked",
	"bot was kicked",
	"user is deactivated",
	"chat not found",
	"bot is not a member",
}

// ClassifyError decides whether a delivery error invalidates the recipient's
// credential. HTTP 401 always does; 403 and the known description signatures
// do too. Anything else is FailOther.
func ClassifyError(err error) FailureClass {
	if err == nil {
		return FailOther
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 401 || apiErr.Code == 403 {
			return FailCredential
		}
		if matchesCredentialSignature(apiErr.Description) {
			return FailCredential
		}
	}
	if matchesCredentialSignature(err.Error()) {
		return FailCredential
	}
	return FailOther
}

func matchesCredentialSignature(msg string) bool {
	msg = strings.ToLower(msg)
	for _, sig := range credentialSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
