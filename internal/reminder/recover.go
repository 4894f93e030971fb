package reminder

import (
	"context"
	"fmt"

	"pollbot/internal/storage"
	logx "pollbot/pkg/logx"
)

// RecoverStats summarizes one Recover pass.
type RecoverStats struct {
	Armed   int // future jobs (re)registered
	Due     int // elapsed jobs queued to fire now
	Skipped int // unreadable, already armed at the same time, or firing
}

// Recover rebuilds timers from storage. Future jobs are armed; jobs whose
// fire time has passed are queued to fire once. Running it again is safe:
// jobs already armed for the same time or currently firing are left alone.
func (s *Scheduler) Recover(ctx context.Context) (RecoverStats, error) {
	var st RecoverStats
	recs, err := s.store.ListPendingReminders(ctx)
	if err != nil {
		return st, fmt.Errorf("list pending reminders: %w", err)
	}
	now := s.now()
	for _, rec := range recs {
		for _, sel := range rec.Selections {
			if !sel.Armed || sel.Sent {
				continue
			}
			key := JobKey{PollID: rec.ID, Tag: sel.Tag}
			fireAt, err := storage.ParseTime(sel.FireAt)
			if err != nil || fireAt.IsZero() {
				s.log.Warn("pending reminder has no usable fire time", logx.String("poll", rec.ID), logx.String("tag", sel.Tag), logx.String("fire_at", sel.FireAt))
				st.Skipped++
				continue
			}
			if s.firing(key) {
				st.Skipped++
				continue
			}
			if fireAt.After(now) {
				if at, ok := s.armedAt(key); ok && at.Equal(fireAt) {
					st.Skipped++
					continue
				}
				s.Arm(key, fireAt)
				st.Armed++
				continue
			}
			s.Cancel(key)
			s.enqueueFire(key)
			st.Due++
		}
	}
	return st, nil
}
