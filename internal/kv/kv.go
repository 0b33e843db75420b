// Package kv is the key-value store contract the coordination core runs on.
//
// Everything stateful in this repo (lock, version pointer, summary cache,
// recipient registry, failure records, metrics) goes through this interface.
// The atomicity of SetNX and CompareDel is load-bearing: the distributed lock
// is only correct if both are single store-side operations.
package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "relnotify/pkg/logx"
)

var (
	ErrClosed = errors.New("kv: store closed")
)

// Value is an explicit present/absent pair, so callers must handle absence.
type Value struct {
	Str   string
	Found bool
}

// Store is the minimal KV surface used by the coordination core.
//
// Semantics (all backends):
//   - ttl == 0 means no expiry.
//   - SetNX sets key only if absent (atomically) and reports whether it did.
//   - CompareDel deletes key only if its current value equals expect
//     (atomically) and reports whether it did.
//   - Scan matches glob-style patterns ('*' wildcard) and returns full keys.
//   - Incr atomically increments an integer value, creating it at 1.
type Store interface {
	Get(ctx context.Context, key string) (Value, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	CompareDel(ctx context.Context, key, expect string) (bool, error)
	MGet(ctx context.Context, keys ...string) ([]Value, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	Incr(ctx context.Context, key string) (int64, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Close() error
}

// Config configures the store.
//
// Driver values:
//   - "redis": networked Redis (production; required for multi-instance runs)
//   - "sqlite": local SQLite file (single-node deployments)
//   - "memory": in-process map (tests)
type Config struct {
	Driver string
	Addr   string // redis address host:port
	DB     int    // redis database number
	Pass   string // redis password (do not log)
	Path   string // sqlite file path

	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "redis":
		return openRedis(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown kv driver: " + cfg.Driver)
	}
}
