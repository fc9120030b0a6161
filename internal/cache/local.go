package cache

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
	timer     *time.Timer
}

// LocalStore is an in-process Store. Every entry owns an expiry timer that
// evicts it; reads also check the deadline so an entry is never served late.
type LocalStore struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocalStore() *LocalStore {
	return &LocalStore{entries: make(map[string]*localEntry)}
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !time.Now().Before(entry.expiresAt) {
		s.removeLocked(key, entry)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *LocalStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.removeLocked(key, old)
	}
	entry := &localEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
		entry.timer = time.AfterFunc(ttl, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if current, ok := s.entries[key]; ok && current == entry {
				delete(s.entries, key)
			}
		})
	}
	s.entries[key] = entry
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		s.removeLocked(key, entry)
	}
	return nil
}

func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry, stops pending timers and reports how many entries
// were dropped.
func (s *LocalStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	for key, entry := range s.entries {
		s.removeLocked(key, entry)
	}
	return n
}

func (s *LocalStore) removeLocked(key string, entry *localEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.entries, key)
}
