// Package app wires configuration, storage, the Slack transport and the poll
// services into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pollbot/internal/bot"
	"pollbot/internal/config"
	"pollbot/internal/eventbus"
	"pollbot/internal/keylock"
	"pollbot/internal/notifier"
	"pollbot/internal/poll"
	"pollbot/internal/reminder"
	"pollbot/internal/runtime/supervisor"
	"pollbot/internal/server"
	"pollbot/internal/storage"
	"pollbot/internal/task/engine"
	"pollbot/internal/transport/slack"
	logx "pollbot/pkg/logx"
	"pollbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter   *slack.Adapter
	engine    *engine.Service
	notif     *notifier.Service
	reminders *reminder.Scheduler
	polls     *poll.Service
	handler   *bot.Handler
	server    *server.Service

	storageDriver string
	started       time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}

	slackCfg, _ := mapSlackConfig(cfg)
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "slack"))
	ad, err := slack.New(slackCfg, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink starts disabled; Apply enables it once the target is set.
	logSvc, log := logx.New(mapLogConfig(cfg, false), ad)
	logSvc.SetChatTarget(cfg.Slack.LogChannel)
	logSvc.Apply(mapLogConfig(cfg, true))

	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, adapter: ad}
	if err := a.build(cfg, log); err != nil {
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	sc, _ := mapStorageConfig(cfg)
	engCfg, _ := mapTaskEngineConfig(cfg)
	ncfg, _ := mapNotifierConfig(cfg)
	srvCfg, _ := mapServerConfig(cfg)
	rs, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	locks := keylock.New()
	eng := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	notif := notifier.New(ncfg, a.adapter, log.With(logx.String("comp", "notifier")), bus)
	rem, err := reminder.New(reminder.Options{
		Store:    store,
		Locks:    locks,
		Engine:   eng,
		Sender:   notif,
		Policy:   rs.policy,
		Location: rs.loc,
		Log:      log.With(logx.String("comp", "reminder")),
		Bus:      bus,
		Sweep:    rs.sweep,
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	polls := poll.New(store, rem, poll.Options{
		Locks:    locks,
		Location: rs.loc,
		Log:      log.With(logx.String("comp", "poll")),
		Bus:      bus,
	})

	a.bus = bus
	a.store = store
	a.storageDriver = sc.Driver
	a.engine = eng
	a.notif = notif
	a.reminders = rem
	a.polls = polls
	a.handler = bot.New(polls, notif, bot.Options{Location: rs.loc, Log: log.With(logx.String("comp", "bot"))})
	a.server = server.New(srvCfg, a.adapter.EventsHandler(), a.status, log.With(logx.String("comp", "http")))
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr returns the bound HTTP address once started.
func (a *App) Addr() string { return a.server.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	runCtx := a.sup.Context()
	a.engine.Start(runCtx)
	if err := a.adapter.Start(runCtx, a.handler.Handle); err != nil {
		return err
	}
	// Recovery runs before the server accepts events so a decision arriving
	// during startup cannot race a stale timer.
	if err := a.reminders.Start(runCtx); err != nil {
		return fmt.Errorf("reminder recovery: %w", err)
	}
	a.server.Start(runCtx)

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.String("policy", a.reminders.Policy().String()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Inbound first, then timers, then the workers that may still be firing.
	step("http", 3*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	step("adapter", time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("reminders", 2*time.Second, func(c context.Context) error { a.reminders.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return errors.Join(errs...)
}

// Status is the /healthz payload.
type Status struct {
	Started    time.Time           `json:"started"`
	Uptime     string              `json:"uptime"`
	Storage    string              `json:"storage"`
	Policy     string              `json:"policy"`
	Armed      int                 `json:"armed_reminders"`
	QueueLen   int                 `json:"queue_len"`
	InFlight   int                 `json:"in_flight"`
	Dropped    uint64              `json:"dropped_tasks"`
	Goroutines supervisor.Counters `json:"goroutines"`
}

func (a *App) status() any {
	snap := a.engine.Snapshot()
	return Status{
		Started:    a.started,
		Uptime:     time.Since(a.started).Truncate(time.Second).String(),
		Storage:    a.storageDriver,
		Policy:     a.reminders.Policy().String(),
		Armed:      len(a.reminders.Pending()),
		QueueLen:   snap.QueueLen,
		InFlight:   snap.InFlight,
		Dropped:    snap.Dropped,
		Goroutines: a.sup.Counters(),
	}
}
