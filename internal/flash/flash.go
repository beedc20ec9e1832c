// Package flash holds short-lived messages that are shown once to the user
// after a redirect. A message set moves through a single transition:
//
//	stored → consumed | expired.
//
// The store is the authoritative source of pending messages; the HTTP
// handlers write on POST and read on the GET that follows the redirect.
package flash

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long an unread message set is kept.
const DefaultTTL = 5 * time.Minute

// Level categorises a message for display.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Message is a single line shown to the user.
type Message struct {
	Level Level
	Text  string

	// URL is an optional link rendered after the text.
	URL string
}

// Store is the interface for stashing and retrieving message sets. The
// in-memory implementation below is suitable for a single instance.
type Store interface {
	Put(msgs ...Message) (string, error)
	Pop(id string) ([]Message, bool)
}

type entry struct {
	msgs      []Message
	createdAt time.Time
}

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*entry
}

// NewMemoryStore creates a MemoryStore discarding unread messages after ttl.
// A non-positive ttl selects DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Put stores msgs and returns the identifier to redeem them with.
func (s *MemoryStore) Put(msgs ...Message) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expire()
	s.entries[id] = &entry{
		msgs:      append([]Message(nil), msgs...),
		createdAt: s.now(),
	}
	return id, nil
}

// Pop returns and removes the messages stored under id. It reports false for
// unknown, already consumed or expired identifiers.
func (s *MemoryStore) Pop(id string) ([]Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	delete(s.entries, id)

	if s.now().Sub(e.createdAt) > s.ttl {
		return nil, false
	}
	return e.msgs, true
}

// Len returns the number of message sets awaiting consumption.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// expire drops message sets older than the TTL. The caller holds s.mu.
func (s *MemoryStore) expire() {
	now := s.now()
	for id, e := range s.entries {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.entries, id)
		}
	}
}
