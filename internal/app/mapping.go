package app

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // default zone must resolve on hosts without zoneinfo

	"pollbot/internal/config"
	"pollbot/internal/notifier"
	"pollbot/internal/reminder"
	"pollbot/internal/server"
	"pollbot/internal/storage"
	"pollbot/internal/task/engine"
	"pollbot/internal/transport/slack"
	logx "pollbot/pkg/logx"
)

const (
	defaultTimezone       = "Asia/Tokyo"
	defaultHandlerTimeout = 2500 * time.Millisecond
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil || cfg.TaskEngine == nil {
		return engine.Config{}, nil
	}
	te := cfg.TaskEngine
	defTimeout, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{DedupWindow: 10 * time.Minute}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.RatePerSec = n.RatePerSec
	out.Burst = n.Burst
	out.HistorySize = n.HistorySize
	if strings.TrimSpace(n.DedupWindow) != "" {
		d, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
		if err != nil {
			return notifier.Config{}, err
		}
		out.DedupWindow = d
	}
	return out, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	sc := cfg.Server
	out := server.Config{Addr: strings.TrimSpace(sc.Addr), EventsPath: strings.TrimSpace(sc.EventsPath)}
	if out.Addr == "" {
		out.Addr = ":3000"
	}
	if out.EventsPath == "" {
		out.EventsPath = "/slack/events"
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, 10*time.Second); err != nil {
		return server.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 10*time.Second); err != nil {
		return server.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("server.idle_timeout", sc.IdleTimeout, time.Minute); err != nil {
		return server.Config{}, err
	}
	return out, nil
}

func mapSlackConfig(cfg *config.Config) (slack.Config, error) {
	timeout, err := config.ParseDurationOrDefault("server.handler_timeout", cfg.Server.HandlerTimeout, defaultHandlerTimeout)
	if err != nil {
		return slack.Config{}, err
	}
	return slack.Config{
		BotToken:       cfg.Slack.BotToken,
		SigningSecret:  cfg.Slack.SigningSecret,
		APIURL:         cfg.Slack.APIURL,
		HandlerTimeout: timeout,
	}, nil
}

// mapLogConfig builds the logging config. chat forces the chat sink off so
// the target channel can be set before it is enabled.
func mapLogConfig(cfg *config.Config, chat bool) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    chat && lc.Chat.Enabled,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

type reminderSettings struct {
	loc    *time.Location
	policy reminder.Policy
	sweep  string
}

func mapReminderConfig(cfg *config.Config) (reminderSettings, error) {
	rc := cfg.Reminder
	tz := strings.TrimSpace(rc.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return reminderSettings{}, fmt.Errorf("reminder.timezone: invalid %q: %w", tz, err)
	}
	offset, err := config.ParseDurationOrDefault("reminder.offset", rc.Offset, reminder.DefaultOffset)
	if err != nil {
		return reminderSettings{}, err
	}
	hour, minute, err := config.ParseClockField("reminder.morning_at", rc.MorningAt, 8, 0)
	if err != nil {
		return reminderSettings{}, err
	}
	policy, err := reminder.NewPolicy(rc.Policy, offset, hour, minute)
	if err != nil {
		return reminderSettings{}, err
	}
	sweep := strings.TrimSpace(rc.Reconcile)
	if sweep != "" {
		if _, err := reminder.ParseSweep(sweep); err != nil {
			return reminderSettings{}, fmt.Errorf("reminder.reconcile: %w", err)
		}
	}
	return reminderSettings{loc: loc, policy: policy, sweep: sweep}, nil
}

// validateMapped runs every mapping so a hot reload is rejected before it is
// committed when any section would fail to apply.
func validateMapped(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSlackConfig(cfg); err != nil {
		return err
	}
	_, err := mapReminderConfig(cfg)
	return err
}
