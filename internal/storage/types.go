package storage

import (
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	ErrNotFound = errors.New("poll not found")
	ErrClosed   = errors.New("storage closed")
	// ErrConflict is returned by UpdatePoll when the record changed after it
	// was read. The caller re-reads and retries.
	ErrConflict = errors.New("poll changed concurrently")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": snapshot + journal under Path
//   - "sqlite" / "sqlite3": database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PollRecord is the persisted form of a poll. Instants are RFC 3339 strings so
// the record reads the same in every driver.
type PollRecord struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`

	// Candidates maps canonical tag to an RFC 3339 instant.
	Candidates map[string]string `json:"candidates"`
	// Participants maps canonical tag to sorted user ids.
	Participants map[string][]string `json:"participants,omitempty"`
	Selections   []SelectionRecord   `json:"selections,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is assigned by the store and bumped on every write. UpdatePoll
	// succeeds only when it still matches the stored value.
	Version int64 `json:"version"`
}

// SelectionRecord is one decided candidate and the state of its reminder.
type SelectionRecord struct {
	Tag    string `json:"tag"`
	At     string `json:"at"`
	FireAt string `json:"fire_at,omitempty"`
	Armed  bool   `json:"armed"`
	Sent   bool   `json:"sent"`
}

// HasPending reports whether any selection is armed and not yet sent.
func (r PollRecord) HasPending() bool {
	for _, s := range r.Selections {
		if s.Armed && !s.Sent {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share maps with a driver.
func (r PollRecord) Clone() PollRecord {
	out := r
	out.Candidates = maps.Clone(r.Candidates)
	if r.Participants != nil {
		out.Participants = make(map[string][]string, len(r.Participants))
		for k, v := range r.Participants {
			out.Participants[k] = slices.Clone(v)
		}
	}
	out.Selections = slices.Clone(r.Selections)
	return out
}

// FormatTime renders t as RFC 3339 keeping its zone offset. The zero time
// renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
