// Package history keeps a short, newest-first log of routed prompts per
// session.
package history

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultLimit is the number of entries kept per session.
	DefaultLimit = 10
	// DefaultMaxSessions bounds how many session logs are held in memory.
	DefaultMaxSessions = 1024

	promptPreview = 60
)

// Entry is one routed prompt.
type Entry struct {
	Prompt        string `json:"prompt"`
	Agent         string `json:"agent"`
	Timestamp     string `json:"timestamp"`
	RoutingReason string `json:"routing_reason"`
}

// NewEntry builds an entry, shortening long prompts to a preview.
func NewEntry(prompt, agentName, timestamp, reason string) Entry {
	return Entry{
		Prompt:        Preview(prompt),
		Agent:         agentName,
		Timestamp:     timestamp,
		RoutingReason: reason,
	}
}

// Preview cuts a prompt to 60 runes, marking the cut with "...".
func Preview(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= promptPreview {
		return prompt
	}
	return string(runes[:promptPreview]) + "..."
}

// Log is a capped, newest-first list of entries.
type Log struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

// NewLog creates a log holding at most limit entries.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit}
}

// Add records an entry at the front, dropping the oldest beyond the cap.
func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.limit {
		l.entries = l.entries[:l.limit]
	}
}

// Entries returns a copy of the log, newest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear removes every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Store holds one Log per session. The least recently used sessions are
// evicted once maxSessions is exceeded.
type Store struct {
	mu       sync.Mutex
	limit    int
	sessions *lru.Cache[string, *Log]
}

// NewStore creates a session store.
func NewStore(limit, maxSessions int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	cache, err := lru.New[string, *Log](maxSessions)
	if err != nil {
		return nil, err
	}
	return &Store{limit: limit, sessions: cache}, nil
}

// Append records an entry for a session.
func (s *Store) Append(session string, e Entry) {
	s.logFor(session).Add(e)
}

// List returns a session's entries, newest first. Unknown sessions have an
// empty history.
func (s *Store) List(session string) []Entry {
	l, ok := s.sessions.Get(session)
	if !ok {
		return []Entry{}
	}
	return l.Entries()
}

// Clear empties a session's history.
func (s *Store) Clear(session string) {
	if l, ok := s.sessions.Get(session); ok {
		l.Clear()
	}
}

// Sessions returns the number of sessions currently held.
func (s *Store) Sessions() int {
	return s.sessions.Len()
}

func (s *Store) logFor(session string) *Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.sessions.Get(session); ok {
		return l
	}
	l := NewLog(s.limit)
	s.sessions.Add(session, l)
	return l
}
