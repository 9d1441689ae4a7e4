// Package storage provides the key-value backends behind the state layer.
package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var ErrClosed = errors.New("storage: closed")

// KV is an ordered key-value store with atomic multi-key writes.
// Get returns (nil, nil) for a missing key. A nil value in Apply deletes
// the key.
type KV interface {
	Get(key []byte) ([]byte, error)
	Apply(writes map[string][]byte) error
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// MemKV keeps everything in a map. Safe for concurrent use.
type MemKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (s *MemKV) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (s *MemKV) Apply(writes map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range writes {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = bytes.Clone(v)
	}
	return nil
}

func (s *MemKV) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0)
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make([][]byte, len(keys))
	for i, k := range keys {
		snapshot[i] = bytes.Clone(s.data[k])
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if !fn([]byte(k), snapshot[i]) {
			return nil
		}
	}
	return nil
}

func (s *MemKV) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ KV = (*MemKV)(nil)
