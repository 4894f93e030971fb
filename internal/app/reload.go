package app

import (
	"context"
	"slices"
	"strings"

	"pollbot/internal/config"
	logx "pollbot/pkg/logx"
)

// restartSections change wiring that is built once at startup.
var restartSections = []string{"storage", "task_engine"}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(s string) bool { return slices.Contains(sections, s) }

	for _, s := range restartSections {
		if changed(s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if changed("slack") || changed("logging") {
		if oldCfg == nil || oldCfg.Slack.BotToken != newCfg.Slack.BotToken || oldCfg.Slack.APIURL != newCfg.Slack.APIURL {
			a.log.Warn("slack credentials changed; restart required for changes to take effect")
		}
		// Target first so Apply does not warn about a missing channel.
		a.logs.SetChatTarget(newCfg.Slack.LogChannel)
		a.logs.Apply(mapLogConfig(newCfg, true))
	}

	if changed("notifier") {
		if ncfg, err := mapNotifierConfig(newCfg); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}

	if changed("reminder") {
		rs, err := mapReminderConfig(newCfg)
		switch {
		case err != nil:
			a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
		default:
			if rs.policy.String() != a.reminders.Policy().String() {
				a.reminders.SetPolicy(rs.policy)
			}
			if oldCfg == nil || oldCfg.Reminder.Timezone != newCfg.Reminder.Timezone ||
				strings.TrimSpace(oldCfg.Reminder.Reconcile) != rs.sweep {
				a.log.Warn("reminder timezone or reconcile changed; restart required for changes to take effect")
			}
		}
	}

	if changed("server") {
		if sc, err := mapSlackConfig(newCfg); err == nil {
			a.adapter.SetHandlerTimeout(sc.HandlerTimeout)
		}
		if srv, err := mapServerConfig(newCfg); err != nil {
			a.log.Warn("invalid server config; keeping previous", logx.Err(err))
		} else {
			a.server.Reconfigure(ctx, srv)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
