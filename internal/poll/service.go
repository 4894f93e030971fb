package poll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"pollbot/internal/datetext"
	"pollbot/internal/eventbus"
	"pollbot/internal/keylock"
	"pollbot/internal/reminder"
	"pollbot/internal/storage"
	logx "pollbot/pkg/logx"
)

// Scheduler is the part of the reminder scheduler a decision needs.
type Scheduler interface {
	FireAt(event time.Time) time.Time
	Arm(key reminder.JobKey, fireAt time.Time) bool
	Cancel(key reminder.JobKey) bool
}

type Options struct {
	// Locks must be shared with the reminder scheduler.
	Locks    *keylock.Map
	Location *time.Location
	Log      logx.Logger
	Bus      eventbus.Bus
	Now      func() time.Time
}

type Service struct {
	store storage.Store
	sched Scheduler
	locks *keylock.Map
	loc   *time.Location
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

// Decision is the outcome of Decide.
type Decision struct {
	PollID     string
	ChannelID  string
	Selections []Selection
	// Ignored lists requested tags that are not candidates of the poll.
	Ignored []string
	// Replaced is set when the poll had been decided before.
	Replaced bool
}

// VoteEvent is published for vote changes.
type VoteEvent struct {
	PollID string `json:"poll_id"`
	Tag    string `json:"tag"`
	UserID string `json:"user_id"`
}

func New(store storage.Store, sched Scheduler, opts Options) *Service {
	if opts.Locks == nil {
		opts.Locks = keylock.New()
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
	return &Service{
		store: store,
		sched: sched,
		locks: opts.Locks,
		loc:   opts.Location,
		log:   opts.Log,
		bus:   opts.Bus,
		now:   opts.Now,
	}
}

// Get loads a poll. ok is false when none exists at id.
func (s *Service) Get(ctx context.Context, id string) (Poll, bool, error) {
	rec, ok, err := s.store.GetPoll(ctx, id)
	if err != nil {
		return Poll{}, false, storeErr(err)
	}
	if !ok {
		return Poll{}, false, nil
	}
	p, err := fromRecord(rec, s.loc)
	if err != nil {
		return Poll{}, false, err
	}
	return p, true, nil
}

// Create stores a new poll at id, replacing any previous poll there along
// with its votes, selections and armed reminders.
func (s *Service) Create(ctx context.Context, id, channelID string, candidates map[string]time.Time) (Poll, error) {
	if len(candidates) == 0 {
		return Poll{}, ErrNoCandidates
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	prev, existed, err := s.store.GetPoll(ctx, id)
	if err != nil {
		return Poll{}, storeErr(err)
	}

	now := s.now()
	p := Poll{
		ID:           id,
		ChannelID:    channelID,
		Candidates:   make(map[string]time.Time, len(candidates)),
		Participants: map[string][]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for tag, at := range candidates {
		p.Candidates[datetext.NormalizeTag(tag)] = at.In(s.loc)
	}
	if err := s.store.PutPoll(ctx, toRecord(p)); err != nil {
		return Poll{}, storeErr(err)
	}
	if existed {
		for _, sel := range prev.Selections {
			s.sched.Cancel(reminder.JobKey{PollID: id, Tag: sel.Tag})
		}
		s.log.Info("poll replaced", logx.String("poll", id), logx.Int("candidates", len(p.Candidates)))
	} else {
		s.log.Info("poll created", logx.String("poll", id), logx.Int("candidates", len(p.Candidates)))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.PollCreated, Data: map[string]any{"poll_id": id, "candidates": len(p.Candidates), "replaced": existed}})
	return p, nil
}

// RecordVote adds userID to tag's participants. Unknown polls and tags are
// ignored. changed reports whether the store was written.
func (s *Service) RecordVote(ctx context.Context, id, tag, userID string) (changed bool, err error) {
	tag = datetext.NormalizeTag(tag)
	return s.mutateVotes(ctx, id, tag, userID, func(users []string) ([]string, bool) {
		if slices.Contains(users, userID) {
			return users, false
		}
		users = append(users, userID)
		slices.Sort(users)
		return users, true
	}, eventbus.PollVoted)
}

// RemoveVote drops userID from tag's participants. An emptied tag entry is
// removed; the poll stays.
func (s *Service) RemoveVote(ctx context.Context, id, tag, userID string) (changed bool, err error) {
	tag = datetext.NormalizeTag(tag)
	return s.mutateVotes(ctx, id, tag, userID, func(users []string) ([]string, bool) {
		i := slices.Index(users, userID)
		if i < 0 {
			return users, false
		}
		return slices.Delete(users, i, i+1), true
	}, eventbus.PollUnvoted)
}

func (s *Service) mutateVotes(ctx context.Context, id, tag, userID string, fn func([]string) ([]string, bool), evType string) (bool, error) {
	if tag == "" || userID == "" {
		return false, nil
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	// Another instance sharing the store may write between read and update.
	changed := false
	err := storage.RetryConflict(ctx, func() error {
		changed = false
		rec, ok, err := s.store.GetPoll(ctx, id)
		if err != nil || !ok {
			return err
		}
		if _, isCandidate := rec.Candidates[tag]; !isCandidate {
			return nil
		}
		users, ok := fn(slices.Clone(rec.Participants[tag]))
		if !ok {
			return nil
		}
		if rec.Participants == nil {
			rec.Participants = map[string][]string{}
		}
		if len(users) == 0 {
			delete(rec.Participants, tag)
		} else {
			rec.Participants[tag] = users
		}
		rec.UpdatedAt = s.now()
		if err := s.store.UpdatePoll(ctx, rec); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, storeErr(err)
	}
	if !changed {
		return false, nil
	}
	s.log.Debug("vote changed", logx.String("poll", id), logx.String("tag", tag), logx.String("user", userID), logx.String("event", evType))
	s.bus.Publish(eventbus.Event{Type: evType, Data: VoteEvent{PollID: id, Tag: tag, UserID: userID}})
	return true, nil
}

// Decide selects the candidates named by tags. Each matching tag gets its own
// fire time from the scheduler policy; selections are persisted before any
// timer is armed. A selection whose fire time is not in the future is stored
// unarmed and no reminder fires for it.
//
// Deciding an already decided poll replaces its selections. A selection that
// keeps the same time and already sent its reminder is not re-armed.
func (s *Service) Decide(ctx context.Context, id string, tags []string) (Decision, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		d        Decision
		previous []Selection
	)
	err := storage.RetryConflict(ctx, func() error {
		rec, ok, err := s.store.GetPoll(ctx, id)
		if err != nil {
			return storeErr(err)
		}
		if !ok {
			return ErrPollNotFound
		}
		p, err := fromRecord(rec, s.loc)
		if err != nil {
			return storeErr(err)
		}
		d = s.decide(p, tags)
		if len(d.Selections) == 0 {
			return ErrNoMatchingCandidate
		}
		previous = p.Selections
		p.Selections = d.Selections
		p.UpdatedAt = s.now()
		if err := s.store.UpdatePoll(ctx, toRecord(p)); err != nil {
			return storeErr(err)
		}
		return nil
	})
	if errors.Is(err, ErrNoMatchingCandidate) {
		return d, err
	}
	if err != nil {
		return Decision{}, err
	}

	for _, old := range previous {
		s.sched.Cancel(reminder.JobKey{PollID: id, Tag: old.Tag})
	}
	var missed []string
	for i := range d.Selections {
		sel := &d.Selections[i]
		if !sel.Armed || sel.Sent {
			continue
		}
		if !s.sched.Arm(reminder.JobKey{PollID: id, Tag: sel.Tag}, sel.FireAt) {
			s.log.Warn("reminder fire time passed while deciding", logx.String("poll", id), logx.String("tag", sel.Tag))
			sel.Armed = false
			missed = append(missed, sel.Tag)
		}
	}
	if len(missed) > 0 {
		if err := s.disarm(ctx, id, d.Selections, missed); err != nil {
			// The stored selection still reads armed; recovery at the next
			// start finds its fire time passed and leaves it alone.
			s.log.Warn("could not record missed reminders", logx.String("poll", id), logx.Err(err))
		}
	}

	s.log.Info("poll decided",
		logx.String("poll", id),
		logx.Strings("tags", selectionTags(d.Selections)),
		logx.Strings("ignored", d.Ignored),
		logx.Bool("replaced", d.Replaced),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.PollDecided, Data: d})
	return d, nil
}

// decide builds the selections for tags against p without touching the store.
func (s *Service) decide(p Poll, tags []string) Decision {
	d := Decision{PollID: p.ID, ChannelID: p.ChannelID, Replaced: p.Decided()}
	now := s.now()
	seen := map[string]bool{}
	for _, raw := range tags {
		tag := datetext.NormalizeTag(raw)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		at, isCandidate := p.Candidates[tag]
		if !isCandidate {
			d.Ignored = append(d.Ignored, tag)
			continue
		}
		sel := Selection{Tag: tag, At: at, FireAt: s.sched.FireAt(at)}
		sel.Armed = sel.FireAt.After(now)
		if old, found := findSelection(p.Selections, tag); found && old.Sent && old.At.Equal(sel.At) && old.FireAt.Equal(sel.FireAt) {
			sel.Armed, sel.Sent = old.Armed, true
		}
		d.Selections = append(d.Selections, sel)
	}
	return d
}

// disarm stores Armed=false for the tags whose timer could not be set, as long
// as the stored selection is still the one this decision wrote.
func (s *Service) disarm(ctx context.Context, id string, decided []Selection, tags []string) error {
	return storage.RetryConflict(ctx, func() error {
		rec, ok, err := s.store.GetPoll(ctx, id)
		if err != nil || !ok {
			return err
		}
		dirty := false
		for i := range rec.Selections {
			sel := &rec.Selections[i]
			want, found := findSelection(decided, sel.Tag)
			if !found || !slices.Contains(tags, sel.Tag) || sel.FireAt != storage.FormatTime(want.FireAt) {
				continue
			}
			if sel.Armed {
				sel.Armed = false
				dirty = true
			}
		}
		if !dirty {
			return nil
		}
		rec.UpdatedAt = s.now()
		return s.store.UpdatePoll(ctx, rec)
	})
}

func findSelection(sels []Selection, tag string) (Selection, bool) {
	for _, s := range sels {
		if s.Tag == tag {
			return s, true
		}
	}
	return Selection{}, false
}

func selectionTags(sels []Selection) []string {
	out := make([]string, len(sels))
	for i, s := range sels {
		out[i] = s.Tag
	}
	return out
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
