package kv

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// InMemoryStore implements Store with a mutex-protected map. It is used by
// tests and by single-process deployments that don't need a shared backend.
type InMemoryStore struct {
	mu     sync.Mutex
	values map[string]entry
	hashes map[string]map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		values: make(map[string]entry),
		hashes: make(map[string]map[string][]byte),
	}
}

func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *InMemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = s.newEntry(value, ttl)
	return nil
}

func (s *InMemoryStore) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (s *InMemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.values[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	s.values[key] = s.newEntry(value, ttl)
	return true, nil
}

func (s *InMemoryStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || e.expired(time.Now()) || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func (s *InMemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	now := time.Now()
	var n int64
	if ok && !e.expired(now) {
		n = decodeInt64(e.value) + 1
		e.value = encodeInt64(n)
		s.values[key] = e
		return n, nil
	}
	n = 1
	s.values[key] = s.newEntry(encodeInt64(n), ttl)
	return n, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.hashes, key)
	return nil
}

func (s *InMemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	return ok && !e.expired(time.Now()), nil
}

func (s *InMemoryStore) HSet(ctx context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *InMemoryStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *InMemoryStore) HDel(ctx context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hashes[key]; ok {
		delete(h, field)
	}
	return nil
}

func (s *InMemoryStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return map[string][]byte{}, nil
	}
	out := make(map[string][]byte, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error { return nil }
func (s *InMemoryStore) Close() error                   { return nil }

func encodeInt64(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func decodeInt64(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
