package cache

import (
	"sync"
	"time"
)

// TTLStore is an injected in-memory set with per-entry expiry. It replaces
// hidden package-level maps: components receive an instance and tests create
// their own. The webhook processor uses it as a fast duplicate pre-check in
// front of the durable event registry.
type TTLStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewTTLStore(ttl time.Duration) *TTLStore {
	return &TTLStore{
		entries:  make(map[string]time.Time),
		ttl:      ttl,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Contains reports whether the key is present and not expired.
func (s *TTLStore) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expires, ok := s.entries[key]
	return ok && time.Now().Before(expires)
}

// Put records the key with the store's TTL.
func (s *TTLStore) Put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = time.Now().Add(s.ttl)
}

// Len returns the number of entries, expired included.
func (s *TTLStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartCleanup runs a background sweep every interval until Stop is called.
func (s *TTLStore) StartCleanup(interval time.Duration) {
	go func() {
		defer close(s.doneChan)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop started by StartCleanup.
func (s *TTLStore) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *TTLStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expires := range s.entries {
		if now.After(expires) {
			delete(s.entries, key)
		}
	}
}
