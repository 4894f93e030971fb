package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail later during service mapping.
// It is used for the initial load and for every hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Slack.BotToken) == "" {
		return fmt.Errorf("slack.bot_token is required")
	}

	for path, raw := range map[string]string{
		"server.read_timeout":    cfg.Server.ReadTimeout,
		"server.write_timeout":   cfg.Server.WriteTimeout,
		"server.idle_timeout":    cfg.Server.IdleTimeout,
		"server.handler_timeout": cfg.Server.HandlerTimeout,
		"reminder.offset":        cfg.Reminder.Offset,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if p := strings.TrimSpace(cfg.Server.EventsPath); p != "" && !strings.HasPrefix(p, "/") {
		return fmt.Errorf("server.events_path must start with '/'")
	}

	if tz := strings.TrimSpace(cfg.Reminder.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminder.timezone: invalid %q: %w", tz, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Reminder.Policy)) {
	case "", "offset", "morning":
	default:
		return fmt.Errorf("reminder.policy: unknown policy %q (use offset or morning)", cfg.Reminder.Policy)
	}
	if _, _, err := ParseClockField("reminder.morning_at", cfg.Reminder.MorningAt, 8, 0); err != nil {
		return err
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			return fmt.Errorf("task_engine.workers must be >= 0")
		}
		if te.QueueSize < 0 {
			return fmt.Errorf("task_engine.queue_size must be >= 0")
		}
		if te.HistorySize < 0 {
			return fmt.Errorf("task_engine.history_size must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			return err
		}
	}
	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 || n.Burst < 0 || n.HistorySize < 0 {
			return fmt.Errorf("notifier values must be >= 0")
		}
		if _, err := ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
			return err
		}
	}
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=%s", st.Driver)
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
