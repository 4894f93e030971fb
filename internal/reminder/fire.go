package reminder

import (
	"context"
	"fmt"
	"time"

	"pollbot/internal/datetext"
	"pollbot/internal/eventbus"
	"pollbot/internal/storage"
	"pollbot/internal/task/engine"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

// Text is the reminder posted to one participant.
func Text(userID, tag string, at time.Time) string {
	return fmt.Sprintf("<@%s> リマインド: %s %s の予定です。", userID, datetext.FormatTag(tag), at.Format("2006/01/02 15:04"))
}

// Fire runs one reminder job. It reads participants at fire time, posts one
// threaded notification per participant and then flags the selection sent.
// A missing poll or selection aborts with a NoRetry error; a disarmed or
// already-sent selection is a no-op.
func (s *Scheduler) Fire(ctx context.Context, key JobKey) error {
	if !s.begin(key) {
		s.log.Debug("reminder already firing", logx.String("poll", key.PollID), logx.String("tag", key.Tag))
		return nil
	}
	defer s.end(key)

	log := s.log.With(logx.String("poll", key.PollID), logx.String("tag", key.Tag))

	rec, ok, err := s.load(ctx, key.PollID)
	if err != nil {
		return fmt.Errorf("load poll %s: %w", key.PollID, err)
	}
	if !ok {
		log.Warn("reminder poll missing")
		s.skipped(key, "poll_missing")
		return engine.NoRetry(fmt.Errorf("poll %s: %w", key.PollID, storage.ErrNotFound))
	}
	sel, ok := findSelection(rec, key.Tag)
	if !ok {
		log.Warn("reminder selection missing")
		s.skipped(key, "selection_missing")
		return engine.NoRetry(fmt.Errorf("poll %s has no selection %q", key.PollID, key.Tag))
	}
	if !sel.Armed || sel.Sent {
		log.Debug("reminder not pending", logx.Bool("armed", sel.Armed), logx.Bool("sent", sel.Sent))
		s.skipped(key, "not_pending")
		return nil
	}
	at, err := storage.ParseTime(sel.At)
	if err != nil {
		log.Warn("reminder selection time unreadable", logx.String("at", sel.At), logx.Err(err))
		return engine.NoRetry(err)
	}
	fireAt, err := storage.ParseTime(sel.FireAt)
	if err == nil && fireAt.After(s.now()) {
		// Rescheduled after this timer was set.
		s.Arm(key, fireAt)
		return nil
	}

	users := rec.Participants[key.Tag]
	failed := 0
	for _, u := range users {
		n := kit.Notification{
			ChannelID: rec.ChannelID,
			Text:      Text(u, key.Tag, at.In(s.loc)),
			Options:   &kit.SendOptions{ThreadID: rec.ID},
			Key:       key.String() + "/" + u,
		}
		if err := s.sender.Send(ctx, n); err != nil {
			failed++
			log.Warn("reminder delivery failed", logx.String("user", u), logx.Err(err))
		}
	}

	if err := s.markSent(ctx, key, sel.FireAt); err != nil {
		// Retrying would repeat the deliveries above; the record stays pending
		// and the next sweep or restart fires it again.
		log.Error("reminder sent but not flagged", logx.Err(err))
		return engine.NoRetry(err)
	}
	log.Info("reminder fired", logx.Int("participants", len(users)), logx.Int("failed", failed))
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderFired, Data: FiredEvent{Key: key, Participants: len(users), Failed: failed}})
	return nil
}

func (s *Scheduler) load(ctx context.Context, id string) (storage.PollRecord, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.store.GetPoll(ctx, id)
}

// markSent flags the selection only if it still carries the fire time this
// run acted on.
func (s *Scheduler) markSent(ctx context.Context, key JobKey, fireAt string) error {
	unlock := s.locks.Lock(key.PollID)
	defer unlock()

	return storage.RetryConflict(ctx, func() error {
		rec, ok, err := s.store.GetPoll(ctx, key.PollID)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		for i := range rec.Selections {
			sel := &rec.Selections[i]
			if sel.Tag != key.Tag || sel.FireAt != fireAt {
				continue
			}
			if sel.Sent {
				return nil
			}
			sel.Sent = true
			rec.UpdatedAt = s.now()
			return s.store.UpdatePoll(ctx, rec)
		}
		return nil
	})
}

func (s *Scheduler) begin(key JobKey) bool {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) end(key JobKey) {
	s.fmu.Lock()
	delete(s.inflight, key)
	s.fmu.Unlock()
}

func (s *Scheduler) firing(key JobKey) bool {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	_, busy := s.inflight[key]
	return busy
}

func (s *Scheduler) skipped(key JobKey, reason string) {
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderSkipped, Data: map[string]string{"key": key.String(), "reason": reason}})
}

func findSelection(rec storage.PollRecord, tag string) (storage.SelectionRecord, bool) {
	for _, sel := range rec.Selections {
		if sel.Tag == tag {
			return sel, true
		}
	}
	return storage.SelectionRecord{}, false
}
