package kv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "relnotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore implements Store on a local SQLite file for single-node
// deployments. TTLs are an expiry column checked on every read and pruned
// opportunistically; with MaxOpenConns(1) every statement is serialized, so
// the single-key conditional operations are atomic.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nowMS() int64 { return time.Now().UnixMilli() }

func expiryMS(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl).UnixMilli()
}

// tick prunes expired rows every pruneEvery operations. It runs on its own
// short deadline so a canceled caller context never blocks housekeeping.
func (s *sqliteStore) tick() {
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.db.ExecContext(pctx, `DELETE FROM kv WHERE expires_ms IS NOT NULL AND expires_ms < ?`, nowMS()); err != nil {
		s.log.Debug("kv prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Value, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_ms IS NULL OR expires_ms >= ?)`,
		key, nowMS(),
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, err
	}
	s.tick()
	return Value{Str: v, Found: true}, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, expires_ms) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_ms=excluded.expires_ms`,
		key, value, expiryMS(ttl),
	)
	if err == nil {
		s.tick()
	}
	return err
}

func (s *sqliteStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// Expired rows count as absent: clear them first, then INSERT OR IGNORE.
	// Both statements run in one transaction so the pair is atomic.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND expires_ms IS NOT NULL AND expires_ms < ?`,
		key, nowMS(),
	); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv(key, value, expires_ms) VALUES(?,?,?)`,
		key, value, expiryMS(ttl),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.tick()
	return n > 0, nil
}

func (s *sqliteStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ph := strings.Repeat("?,", len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key IN (`+ph[:len(ph)-1]+`)`, args...)
	return err
}

func (s *sqliteStore) CompareDel(ctx context.Context, key, expect string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND value = ? AND (expires_ms IS NULL OR expires_ms >= ?)`,
		key, expect, nowMS(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	out := make([]Value, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ph := strings.Repeat("?,", len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, nowMS())

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key IN (`+ph[:len(ph)-1]+`) AND (expires_ms IS NULL OR expires_ms >= ?)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byKey := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		byKey[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, k := range keys {
		if v, ok := byKey[k]; ok {
			out[i] = Value{Str: v, Found: true}
		}
	}
	return out, nil
}

func (s *sqliteStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' AND (expires_ms IS NULL OR expires_ms >= ?)`,
		globToLike(pattern), nowMS())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Incr(ctx context.Context, key string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_ms IS NULL OR expires_ms >= ?)`,
		key, nowMS(),
	).Scan(&cur)
	var n int64
	switch {
	case errors.Is(err, sql.ErrNoRows):
		n = 1
	case err != nil:
		return 0, err
	default:
		prev, perr := strconv.ParseInt(cur, 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("kv: incr on non-integer value at %s", key)
		}
		n = prev + 1
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv(key, value, expires_ms) VALUES(?,?,NULL)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_ms=NULL`,
		key, strconv.FormatInt(n, 10),
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqliteStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO kv_set(key, member) VALUES(?,?)`, key, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM kv_set WHERE key = ? AND member = ?`, key, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM kv_set WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// globToLike translates the store's glob patterns ('*', '?') to SQL LIKE,
// escaping LIKE's own metacharacters.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
