package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Result is a cached retrieval result.
type Result struct {
	Snippet   string
	Timestamp time.Time
}

// Key generates a cache key from the given parts.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Store is an in-process cache for retrieval results with a TTL, so
// repeated identical queries inside one session skip the network.
type Store struct {
	ttl     time.Duration
	entries sync.Map
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl}
}

// Get returns the cached snippet for key if present and fresh.
func (s *Store) Get(key string) (string, bool) {
	val, ok := s.entries.Load(key)
	if !ok {
		return "", false
	}
	res := val.(Result)
	if s.ttl > 0 && time.Since(res.Timestamp) > s.ttl {
		s.entries.Delete(key)
		return "", false
	}
	return res.Snippet, true
}

// Put stores a snippet under key.
func (s *Store) Put(key, snippet string) {
	s.entries.Store(key, Result{
		Snippet:   snippet,
		Timestamp: time.Now(),
	})
}
