// Package memory provides the keyed, thread-safe map behind the in-memory
// repositories.
package memory

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when no value is stored under a key.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by Insert when a different value already
	// occupies the key.
	ErrConflict = errors.New("conflicting value")
)

// Store maps keys derived from the values themselves to those values.
type Store[K comparable, V any] struct {
	mu    sync.RWMutex
	data  map[K]V
	keyOf func(V) K
}

// New creates a Store that files every value under keyOf(v).
func New[K comparable, V any](keyOf func(V) K) *Store[K, V] {
	return &Store[K, V]{
		data:  make(map[K]V),
		keyOf: keyOf,
	}
}

// Set inserts or replaces v.
func (s *Store[K, V]) Set(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.keyOf(v)] = v
	return nil
}

// Insert stores v unless its key is taken. A value already stored under the
// key is kept and accepted when same reports it equal to v; otherwise Insert
// fails with ErrConflict.
func (s *Store[K, V]) Insert(_ context.Context, v V, same func(stored, v V) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keyOf(v)
	if stored, ok := s.data[k]; ok {
		if same(stored, v) {
			return nil
		}
		return ErrConflict
	}
	s.data[k] = v
	return nil
}

func (s *Store[K, V]) Get(_ context.Context, key K) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

func (s *Store[K, V]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// DeleteFunc removes every value matching pred and reports how many were
// removed.
func (s *Store[K, V]) DeleteFunc(_ context.Context, pred func(V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.data {
		if pred(v) {
			delete(s.data, k)
			n++
		}
	}
	return n
}

// Filter returns the values matching pred in arbitrary order. A nil pred
// matches everything.
func (s *Store[K, V]) Filter(_ context.Context, pred func(V) bool) []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.data))
	for _, v := range s.data {
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out
}
