package config

type Config struct {
	Slack   SlackConfig   `json:"slack"`
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`

	// Reminder controls when and how decided candidates are announced.
	Reminder ReminderConfig `json:"reminder"`

	// TaskEngine controls execution of reminder firings.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

// SlackConfig holds workspace credentials.
//
// Values may reference environment variables ("${SLACK_BOT_TOKEN}"); they are
// expanded when the file is parsed.
type SlackConfig struct {
	BotToken      string `json:"bot_token"`
	SigningSecret string `json:"signing_secret,omitempty"`
	// LogChannel receives WARN+ log lines when logging.chat.enabled is set.
	LogChannel string `json:"log_channel,omitempty"`
	// APIURL overrides the Slack Web API base URL (tests, proxies).
	APIURL string `json:"api_url,omitempty"`
}

// ServerConfig controls the HTTP server that receives Events API callbacks.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr       string `json:"addr,omitempty"`        // default: ":3000"
	EventsPath string `json:"events_path,omitempty"` // default: "/slack/events"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// HandlerTimeout bounds the processing of one inbound event. Slack expects
	// an answer within 3 seconds. Default: "2500ms".
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ReminderConfig selects the fire-time policy.
//
// Policies:
//   - "offset" (default): fire Offset before the selected time (default "24h").
//   - "morning": fire at MorningAt ("HH:MM", default "08:00") on the day before
//     the selected time, one more day earlier if the event starts before MorningAt.
//
// Reconcile is an optional cron or interval spec ("@every 5m", "*/10 * * * *")
// that periodically re-reads pending reminders from storage.
type ReminderConfig struct {
	Timezone  string `json:"timezone,omitempty"` // IANA TZ, default "Asia/Tokyo"
	Policy    string `json:"policy,omitempty"`
	Offset    string `json:"offset,omitempty"`
	MorningAt string `json:"morning_at,omitempty"`
	Reconcile string `json:"reconcile,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "30s"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls outbound message pacing.
//
// dedup_window (Go duration, default "10m") suppresses a repeated reminder to
// the same participant; "0s" disables it.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec"`
	Burst       int    `json:"burst,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

// StorageConfig controls the poll store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pollbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
