// Package registry stores delivery recipients (registered chat workspaces)
// in the kv store, with an active-set index for listing.
//
// A recipient's record and its membership in the active set are two separate
// keys; the pair of writes is not transactional. The brief window where one
// is updated and the other is not is accepted, there is no compensating
// transaction.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"relnotify/internal/kv"
	logx "relnotify/pkg/logx"
)

// Recipient is one registered delivery target.
type Recipient struct {
	TeamID      string    `json:"team_id"`
	DisplayName string    `json:"display_name"`
	Token       string    `json:"token"` // delivery credential; never logged
	ChatID      int64     `json:"chat_id"`
	Language    string    `json:"language"`
	Active      bool      `json:"active"`
	InstalledAt time.Time `json:"installed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Redacted returns a loggable identity for the recipient.
func (r Recipient) Redacted() string {
	name := strings.TrimSpace(r.DisplayName)
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%s(%s)", r.TeamID, name)
}

type Registry struct {
	store kv.Store
	keys  kv.Keyspace
	log   logx.Logger
}

func New(store kv.Store, keys kv.Keyspace, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, keys: keys, log: log}
}

// Upsert installs or re-installs a recipient. Re-installation keeps the
// original install time (listing order is stable across re-installs) and
// reactivates the recipient.
func (g *Registry) Upsert(ctx context.Context, r Recipient) error {
	now := time.Now().UTC()
	if prev, ok, err := g.Get(ctx, r.TeamID); err != nil {
		return err
	} else if ok && !prev.InstalledAt.IsZero() {
		r.InstalledAt = prev.InstalledAt
	} else if r.InstalledAt.IsZero() {
		r.InstalledAt = now
	}
	r.UpdatedAt = now
	r.Active = true

	if err := g.put(ctx, r); err != nil {
		return err
	}
	return g.store.SAdd(ctx, g.keys.ActiveRecipients(), r.TeamID)
}

func (g *Registry) Get(ctx context.Context, teamID string) (Recipient, bool, error) {
	v, err := g.store.Get(ctx, g.keys.Recipient(teamID))
	if err != nil || !v.Found {
		return Recipient{}, false, err
	}
	var r Recipient
	if uerr := json.Unmarshal([]byte(v.Str), &r); uerr != nil {
		return Recipient{}, false, fmt.Errorf("registry: corrupt record for %s: %w", teamID, uerr)
	}
	return r, true, nil
}

// SetLanguage updates a recipient's language preference.
func (g *Registry) SetLanguage(ctx context.Context, teamID, lang string) error {
	r, ok, err := g.Get(ctx, teamID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("registry: unknown recipient %s", teamID)
	}
	r.Language = lang
	r.UpdatedAt = time.Now().UTC()
	return g.put(ctx, r)
}

// ListActive returns active recipients ordered by install time (ties broken
// by team id), so delivery order is stable between runs.
func (g *Registry) ListActive(ctx context.Context) ([]Recipient, error) {
	ids, err := g.store.SMembers(ctx, g.keys.ActiveRecipients())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = g.keys.Recipient(id)
	}
	vals, err := g.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make([]Recipient, 0, len(ids))
	for i, v := range vals {
		if !v.Found {
			// Index ahead of record (or record deleted): drop the stale
			// index entry so the set converges.
			g.log.Warn("active index points at missing recipient", logx.String("team_id", ids[i]))
			continue
		}
		var r Recipient
		if uerr := json.Unmarshal([]byte(v.Str), &r); uerr != nil {
			g.log.Warn("skipping corrupt recipient record", logx.String("team_id", ids[i]), logx.Err(uerr))
			continue
		}
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InstalledAt.Equal(out[j].InstalledAt) {
			return out[i].InstalledAt.Before(out[j].InstalledAt)
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out, nil
}

// Deactivate soft-deletes a recipient: the record stays (so a later
// re-installation keeps history) but it leaves the active set and no further
// deliveries are attempted.
func (g *Registry) Deactivate(ctx context.Context, teamID string) error {
	r, ok, err := g.Get(ctx, teamID)
	if err != nil {
		return err
	}
	if ok {
		r.Active = false
		r.UpdatedAt = time.Now().UTC()
		if perr := g.put(ctx, r); perr != nil {
			return perr
		}
	}
	return g.store.SRem(ctx, g.keys.ActiveRecipients(), teamID)
}

func (g *Registry) put(ctx context.Context, r Recipient) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, g.keys.Recipient(r.TeamID), string(b), 0)
}
