package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs session-scoped state and tests.
type Memory struct {
	mu    sync.RWMutex
	m     map[string][]byte
	quota int
	used  int
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithQuota caps the total bytes held by the store. Zero means unlimited.
func WithQuota(bytes int) MemoryOption {
	return func(m *Memory) { m.quota = bytes }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{m: make(map[string][]byte)}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Memory) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.used - len(s.m[key]) + len(value)
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.m[key] = v
	s.used = used
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used -= len(s.m[key])
	delete(s.m, key)
	return nil
}

// SetQuota changes the byte cap at runtime.
func (s *Memory) SetQuota(bytes int) {
	s.mu.Lock()
	s.quota = bytes
	s.mu.Unlock()
}

// Keys returns the number of stored keys.
func (s *Memory) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
