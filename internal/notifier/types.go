package notifier

import "time"

// Config controls delivery pacing.
type Config struct {
	RatePerSec int
	Burst      int
	// HistorySize bounds the in-memory history (default 300).
	HistorySize int
	// DedupWindow suppresses a second notification with the same Key inside
	// the window. 0 disables dedup.
	DedupWindow time.Duration
}

type HistoryItem struct {
	At        time.Time
	Key       string
	ChannelID string
	Text      string
	Error     string
}

// NotificationEvent is emitted on the event bus after each attempt.
type NotificationEvent struct {
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Key       string    `json:"key"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
