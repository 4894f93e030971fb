package config

import (
	"reflect"
	"strings"

	logx "pollbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	// Slack (never log token or secret)
	if oldCfg.Slack.BotToken != newCfg.Slack.BotToken ||
		oldCfg.Slack.SigningSecret != newCfg.Slack.SigningSecret ||
		strings.TrimSpace(oldCfg.Slack.LogChannel) != strings.TrimSpace(newCfg.Slack.LogChannel) ||
		oldCfg.Slack.APIURL != newCfg.Slack.APIURL {
		changed = append(changed, "slack")
		attrs = append(attrs,
			logx.Bool("slack.signing_secret_set", newCfg.Slack.SigningSecret != ""),
			logx.Bool("slack.log_channel_set", strings.TrimSpace(newCfg.Slack.LogChannel) != ""),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.String("server.events_path", newCfg.Server.EventsPath),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, "reminder")
		attrs = append(attrs,
			logx.String("reminder.policy", newCfg.Reminder.Policy),
			logx.String("reminder.offset", newCfg.Reminder.Offset),
			logx.String("reminder.morning_at", newCfg.Reminder.MorningAt),
			logx.String("reminder.timezone", newCfg.Reminder.Timezone),
			logx.String("reminder.reconcile", newCfg.Reminder.Reconcile),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if newCfg.Notifier != nil {
			attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
		}
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	return changed, attrs
}
