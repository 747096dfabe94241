package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEntries caps the in-memory audit trail. Oldest entries are
// evicted first.
const DefaultMaxEntries = 10000

// Audit actions.
const (
	ActionChatInteraction       = "chat_interaction"
	ActionCalendarList          = "calendar_list"
	ActionCalendarListAttempt   = "calendar_list_attempt"
	ActionCalendarCreate        = "calendar_create"
	ActionCalendarCreateAttempt = "calendar_create_attempt"
	ActionCalendarUpdate        = "calendar_update"
	ActionCalendarDelete        = "calendar_delete"
	ActionModerationBlocked     = "moderation_blocked"
)

// Entry is a single audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Success   bool           `json:"success"`
	IPAddress string         `json:"ip_address,omitempty"`
}

// Store keeps audit entries in memory. Entries are per user on read:
// callers only ever see their own records.
type Store struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
	logger     *Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxEntries overrides the eviction cap.
func WithMaxEntries(n int) StoreOption {
	return func(s *Store) {
		s.maxEntries = n
	}
}

// WithLogger attaches a structured audit logger that mirrors every
// recorded entry to the log stream.
func WithLogger(logger *Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an audit store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends an audit entry, assigning its ID and timestamp, and
// returns the stored entry.
func (s *Store) Record(userID, action string, details map[string]any, success bool, ipAddress string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Action:    action,
		Details:   details,
		Success:   success,
		IPAddress: ipAddress,
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Log(entry)
	}
	return entry
}

// ForUser returns the entries recorded for the given user, newest first.
func (s *Store) ForUser(userID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			result = append(result, s.entries[i])
		}
	}
	return result
}

// Len returns the total number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
