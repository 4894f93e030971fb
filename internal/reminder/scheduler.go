package reminder

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pollbot/internal/eventbus"
	"pollbot/internal/keylock"
	"pollbot/internal/storage"
	"pollbot/internal/task/engine"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

// JobKey identifies one reminder job.
type JobKey struct {
	PollID string
	Tag    string
}

func (k JobKey) String() string { return k.PollID + "/" + k.Tag }

// Enqueuer runs fire tasks off the timer goroutine.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n kit.Notification) error
}

// ArmedEvent is published on the bus when a timer is set.
type ArmedEvent struct {
	Key    JobKey    `json:"key"`
	FireAt time.Time `json:"fire_at"`
}

// FiredEvent is published after a job has notified participants.
type FiredEvent struct {
	Key          JobKey `json:"key"`
	Participants int    `json:"participants"`
	Failed       int    `json:"failed"`
}

type Options struct {
	Store  storage.Store
	Locks  *keylock.Map
	Engine Enqueuer
	Sender Sender
	Policy Policy

	Location *time.Location
	Log      logx.Logger
	Bus      eventbus.Bus
	Now      func() time.Time

	// Sweep is an optional reconcile spec (see ParseSweep). "" disables it.
	Sweep string
	// FireTimeout bounds one firing task; 0 uses the engine default.
	FireTimeout time.Duration
}

type armedTimer struct {
	t   *time.Timer
	at  time.Time
	ver uint64
}

// Scheduler owns the in-process timers for armed reminder jobs.
type Scheduler struct {
	store  storage.Store
	locks  *keylock.Map
	engine Enqueuer
	sender Sender
	loc    *time.Location
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	sweepSpec   string
	fireTimeout time.Duration

	policy atomic.Value // policyBox

	tmu    sync.Mutex
	timers map[JobKey]armedTimer
	seq    uint64

	fmu      sync.Mutex
	inflight map[JobKey]struct{}

	cmu  sync.Mutex
	cron *cron.Cron
}

type policyBox struct{ p Policy }

func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil || opts.Engine == nil || opts.Sender == nil {
		return nil, errors.New("reminder: store, engine and sender are required")
	}
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}
	if opts.Policy == nil {
		opts.Policy = OffsetPolicy{Offset: DefaultOffset}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sweep != "" {
		if _, err := ParseSweep(opts.Sweep); err != nil {
			return nil, err
		}
	}
	s := &Scheduler{
		store:       opts.Store,
		locks:       opts.Locks,
		engine:      opts.Engine,
		sender:      opts.Sender,
		loc:         opts.Location,
		log:         opts.Log,
		bus:         opts.Bus,
		now:         opts.Now,
		sweepSpec:   opts.Sweep,
		fireTimeout: opts.FireTimeout,
		timers:      map[JobKey]armedTimer{},
		inflight:    map[JobKey]struct{}{},
	}
	s.policy.Store(policyBox{opts.Policy})
	return s, nil
}

// SetPolicy swaps the fire-time policy for future decisions. Timers already
// armed keep their persisted fire time.
func (s *Scheduler) SetPolicy(p Policy) {
	if p == nil {
		return
	}
	s.policy.Store(policyBox{p})
	s.log.Info("reminder policy changed", logx.String("policy", p.String()))
}

func (s *Scheduler) Policy() Policy { return s.policy.Load().(policyBox).p }

// FireAt applies the current policy to an event time.
func (s *Scheduler) FireAt(event time.Time) time.Time {
	return s.Policy().FireAt(event.In(s.loc))
}

// Arm registers a timer for key, replacing any timer already armed for it.
// It returns false and arms nothing when fireAt is not strictly in the future.
func (s *Scheduler) Arm(key JobKey, fireAt time.Time) bool {
	delay := fireAt.Sub(s.now())
	if delay <= 0 {
		s.Cancel(key)
		return false
	}

	s.tmu.Lock()
	if cur, ok := s.timers[key]; ok {
		cur.t.Stop()
	}
	s.seq++
	ver := s.seq
	t := time.AfterFunc(delay, func() { s.onTimer(key, ver) })
	s.timers[key] = armedTimer{t: t, at: fireAt, ver: ver}
	s.tmu.Unlock()

	s.log.Debug("reminder armed", logx.String("poll", key.PollID), logx.String("tag", key.Tag), logx.Time("fire_at", fireAt))
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderArmed, Data: ArmedEvent{Key: key, FireAt: fireAt}})
	return true
}

// Cancel drops the timer for key. It reports whether one was armed.
func (s *Scheduler) Cancel(key JobKey) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	cur, ok := s.timers[key]
	if !ok {
		return false
	}
	cur.t.Stop()
	delete(s.timers, key)
	return true
}

// Pending lists armed keys ordered by fire time.
func (s *Scheduler) Pending() []JobKey {
	s.tmu.Lock()
	type item struct {
		k  JobKey
		at time.Time
	}
	items := make([]item, 0, len(s.timers))
	for k, v := range s.timers {
		items = append(items, item{k, v.at})
	}
	s.tmu.Unlock()

	slices.SortFunc(items, func(a, b item) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return cmp.Compare(a.k.String(), b.k.String())
	})
	out := make([]JobKey, len(items))
	for i, it := range items {
		out[i] = it.k
	}
	return out
}

func (s *Scheduler) armedAt(key JobKey) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	cur, ok := s.timers[key]
	return cur.at, ok
}

// onTimer ignores callbacks from timers that were replaced or cancelled.
func (s *Scheduler) onTimer(key JobKey, ver uint64) {
	s.tmu.Lock()
	cur, ok := s.timers[key]
	if !ok || cur.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.timers, key)
	s.tmu.Unlock()

	s.enqueueFire(key)
}

func (s *Scheduler) enqueueFire(key JobKey) {
	err := s.engine.Enqueue(engine.Task{
		Name:    "reminder.fire",
		Timeout: s.fireTimeout,
		Run:     func(ctx context.Context) error { return s.Fire(ctx, key) },
	})
	if err != nil {
		// The record is still armed and unsent; the next sweep or restart picks it up.
		s.log.Warn("reminder fire not enqueued", logx.String("poll", key.PollID), logx.String("tag", key.Tag), logx.Err(err))
	}
}

// Start recovers pending jobs and starts the reconcile sweep when configured.
func (s *Scheduler) Start(ctx context.Context) error {
	st, err := s.Recover(ctx)
	if err != nil {
		return err
	}
	s.log.Info("reminders recovered", logx.Int("armed", st.Armed), logx.Int("due", st.Due), logx.Int("skipped", st.Skipped))

	if s.sweepSpec == "" {
		return nil
	}
	sched, err := ParseSweep(s.sweepSpec)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(s.loc))
	c.Schedule(sched, cron.FuncJob(func() {
		err := s.engine.Enqueue(engine.Task{
			Name:     "reminder.reconcile",
			RetryMax: -1,
			Run: func(ctx context.Context) error {
				st, err := s.Recover(ctx)
				if err == nil && (st.Armed > 0 || st.Due > 0) {
					s.log.Debug("reminder sweep", logx.Int("armed", st.Armed), logx.Int("due", st.Due))
				}
				return err
			},
		})
		if err != nil {
			s.log.Warn("reminder sweep not enqueued", logx.Err(err))
		}
	}))
	s.cmu.Lock()
	s.cron = c
	s.cmu.Unlock()
	c.Start()
	s.log.Info("reminder sweep started", logx.String("spec", s.sweepSpec))
	return nil
}

// Stop halts the sweep and every armed timer. Persisted jobs stay armed and
// are recovered on the next Start.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cmu.Lock()
	c := s.cron
	s.cron = nil
	s.cmu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	n := len(s.timers)
	for k, v := range s.timers {
		v.t.Stop()
		delete(s.timers, k)
	}
	s.tmu.Unlock()
	s.log.Info("reminder scheduler stopped", logx.Int("timers", n))
}
