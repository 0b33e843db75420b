// Package telegram implements the outbound transport on the Telegram Bot
// API. Each recipient carries its own bot credential, so clients are built
// per token and reused.
package telegram

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"relnotify/internal/transport"
	logx "relnotify/pkg/logx"
)

const textLimit = 4000

type Config struct {
	// CallTimeout bounds a single Bot API call. 0 uses the default (10s).
	CallTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func New(cfg Config, log logx.Logger) *Adapter {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bots: map[string]*tele.Bot{}}
}

// bot returns the cached client for token, constructing one lazily.
// Offline mode skips telebot's getMe probe; a dead token then surfaces as a
// 401 on the first send, which is exactly what the failure classifier wants.
func (a *Adapter) bot(token string) (*tele.Bot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: a.cfg.CallTimeout},
	})
	if err != nil {
		return nil, err
	}
	a.bots[token] = b
	return b, nil
}

func (a *Adapter) PostMessage(ctx context.Context, addr transport.Address, text string) (transport.MessageRef, error) {
	return a.send(ctx, addr, text, 0)
}

func (a *Adapter) PostReply(ctx context.Context, addr transport.Address, text string, parent transport.MessageRef) (transport.MessageRef, error) {
	return a.send(ctx, addr, text, parent.MessageID)
}

func (a *Adapter) send(ctx context.Context, addr transport.Address, text string, replyTo int) (transport.MessageRef, error) {
	b, err := a.bot(addr.Token)
	if err != nil {
		return transport.MessageRef{}, err
	}

	chat := &tele.Chat{ID: addr.ChatID}
	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		select {
		case <-ctx.Done():
			if first.MessageID != 0 {
				return first, ctx.Err()
			}
			return transport.MessageRef{}, ctx.Err()
		default:
		}

		opt := &tele.SendOptions{DisableWebPagePreview: true}
		if replyTo != 0 {
			opt.ReplyTo = &tele.Message{ID: replyTo, Chat: chat}
		}

		msg, serr := b.Send(chat, chunk, opt)
		if serr != nil {
			if first.MessageID != 0 {
				return first, serr
			}
			return transport.MessageRef{}, serr
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: addr.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// splitText chunks long messages at the platform limit, preferring newline
// boundaries so bullets don't get cut mid-line.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
