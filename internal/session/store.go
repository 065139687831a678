// Package session caches user sessions resolved from bearer tokens so that
// a returning browser skips the user lookup.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"hubview/api/internal/gate"
)

var ErrNotFound = errors.New("session not found or expired")

// DefaultTTL applies when a caller passes a non-positive ttl.
const DefaultTTL = time.Hour

// Store caches sessions by token hash.
type Store interface {
	SaveSession(ctx context.Context, tokenHash string, s gate.Session, ttl time.Duration) error
	LookupSession(ctx context.Context, tokenHash string) (gate.Session, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

// HashToken returns the cache key for a bearer token. Raw tokens are never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemoryStore is the in-process fallback used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	session   gate.Session
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryStore) SaveSession(_ context.Context, tokenHash string, session gate.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tokenHash] = memoryEntry{session: session, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) LookupSession(_ context.Context, tokenHash string) (gate.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[tokenHash]
	if !ok {
		return gate.Session{}, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, tokenHash)
		return gate.Session{}, ErrNotFound
	}
	return entry.session, nil
}

func (s *MemoryStore) RevokeSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tokenHash)
	return nil
}
