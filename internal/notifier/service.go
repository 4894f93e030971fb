package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pollbot/internal/eventbus"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

var (
	ErrNoGateway = errors.New("notifier has no gateway")
	ErrEmpty     = errors.New("notification has no channel or text")
)

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	gw  kit.Gateway
	log logx.Logger
	bus eventbus.Bus

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, gw kit.Gateway, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{gw: gw, log: log, bus: bus, dedup: map[string]time.Time{}}
	s.Apply(cfg)
	return s
}

// Apply swaps pacing settings. In-flight waits keep the old limiter.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.mu.Unlock()
}

// Send delivers n and reports the gateway error, if any. A notification whose
// Key was sent within the dedup window returns nil without sending.
// UserID set means an ephemeral post.
func (s *Service) Send(ctx context.Context, n kit.Notification) error {
	if s.gw == nil {
		return ErrNoGateway
	}
	if strings.TrimSpace(n.ChannelID) == "" || strings.TrimSpace(n.Text) == "" {
		return ErrEmpty
	}

	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	s.mu.Unlock()

	now := time.Now()
	if n.Key != "" && cfg.DedupWindow > 0 && !s.dedupAllow(n.Key, now, cfg.DedupWindow) {
		s.log.Debug("notification deduped", logx.String("key", n.Key))
		s.bus.Publish(eventbus.Event{Type: "notify.deduped", Time: now, Data: s.event(n, now, nil)})
		return nil
	}

	if err := limiter.Wait(ctx); err != nil {
		s.forget(n.Key)
		return err
	}

	var err error
	if n.UserID != "" {
		err = s.gw.PostEphemeral(ctx, n.ChannelID, n.UserID, n.Text)
	} else {
		_, err = s.gw.PostMessage(ctx, n.ChannelID, n.Text, n.Options)
	}

	at := time.Now()
	item := HistoryItem{At: at, Key: n.Key, ChannelID: n.ChannelID, Text: n.Text}
	if err != nil {
		s.forget(n.Key)
		item.Error = err.Error()
		s.log.Warn("notification failed", logx.String("key", n.Key), logx.String("channel", n.ChannelID), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Time: at, Data: s.event(n, at, err)})
	} else {
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Time: at, Data: s.event(n, at, nil)})
	}
	s.appendHistory(item, cfg.HistorySize)
	return err
}

// History returns recent attempts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(item HistoryItem, size int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

// dedupAllow records key and reports whether it was free. Expired entries are
// pruned on the way.
func (s *Service) dedupAllow(key string, now time.Time, window time.Duration) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	for k, until := range s.dedup {
		if now.After(until) {
			delete(s.dedup, k)
		}
	}
	if _, ok := s.dedup[key]; ok {
		return false
	}
	s.dedup[key] = now.Add(window)
	return true
}

// forget releases a dedup slot after a failed attempt so a retry can send.
func (s *Service) forget(key string) {
	if key == "" {
		return
	}
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

func (s *Service) event(n kit.Notification, at time.Time, err error) NotificationEvent {
	ev := NotificationEvent{ChannelID: n.ChannelID, UserID: n.UserID, Key: n.Key, At: at}
	if n.Options != nil {
		ev.ThreadID = n.Options.ThreadID
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
