package kv

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as the networked
// backends. It backs tests and the "memory" driver.
type Memory struct {
	mu     sync.Mutex
	data   map[string]memEntry
	sets   map[string]map[string]struct{}
	closed bool
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemory() *Memory {
	return &Memory{
		data: map[string]memEntry{},
		sets: map[string]map[string]struct{}{},
	}
}

func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(ctx context.Context, key string) (Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Value{}, ErrClosed
	}
	e, ok := m.live(key)
	if !ok {
		return Value{}, nil
	}
	return Value{Str: e.value, Found: true}, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = memEntry{value: value, expiresAt: expiresAt(ttl)}
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.data[key] = memEntry{value: value, expiresAt: expiresAt(ttl)}
	return true, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) CompareDel(ctx context.Context, key, expect string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	e, ok := m.live(key)
	if !ok || e.value != expect {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *Memory) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Value, len(keys))
	for i, k := range keys {
		if e, ok := m.live(k); ok {
			out[i] = Value{Str: e.value, Found: true}
		}
	}
	return out, nil
}

func (m *Memory) Scan(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var keys []string
	for k := range m.data {
		if _, ok := m.live(k); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64 = 1
	if e, ok := m.live(key); ok {
		prev, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = prev + 1
	}
	m.data[key] = memEntry{value: strconv.FormatInt(n, 10)}
	return n, nil
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	set := m.sets[key]
	if set == nil {
		set = map[string]struct{}{}
		m.sets[key] = set
	}
	for _, mem := range members {
		set[mem] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	set := m.sets[key]
	for _, mem := range members {
		delete(set, mem)
	}
	return nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	set := m.sets[key]
	members := make([]string, 0, len(set))
	for mem := range set {
		members = append(members, mem)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ForceSet writes a raw value bypassing nothing (the memory backend has no
// validation), but exists so tests can plant malformed entries explicitly.
func (m *Memory) ForceSet(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{value: value}
}

func expiresAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
