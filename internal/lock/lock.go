// Package lock provides a distributed advisory lock on top of the kv store.
//
// Acquire is a single set-if-absent-with-expiry; Release is a single
// compare-and-delete against the holder token. There is deliberately no
// separate existence check anywhere: two store operations would open a race
// window between check and set.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relnotify/internal/kv"
)

type Manager struct {
	store kv.Store
	keys  kv.Keyspace
}

func NewManager(store kv.Store, keys kv.Keyspace) *Manager {
	return &Manager{store: store, keys: keys}
}

// Acquire tries to take the named lock for ttl. Contention is an expected,
// non-exceptional outcome: it returns ok=false with a nil error. A non-nil
// error means the store itself failed and the caller should abort.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = m.store.SetNX(ctx, m.keys.Lock(name), token, ttl)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the named lock if and only if token is the current holder.
// Returns false when the lock is absent or held by someone else (e.g. it
// expired and was re-acquired); that is not an error. Callers treat store
// errors as best-effort: the TTL guarantees eventual release.
func (m *Manager) Release(ctx context.Context, name, token string) (bool, error) {
	return m.store.CompareDel(ctx, m.keys.Lock(name), token)
}
