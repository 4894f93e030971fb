package poll

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"pollbot/internal/keylock"
	"pollbot/internal/reminder"
	"pollbot/internal/storage"
	logx "pollbot/pkg/logx"
)

var jst = time.FixedZone("JST", 9*3600)

type fakeScheduler struct {
	mu       sync.Mutex
	armed    map[reminder.JobKey]time.Time
	canceled []reminder.JobKey
	now      time.Time
	// refuse makes Arm fail as if the fire time passed mid-decision.
	refuse bool
}

func newFakeScheduler(now time.Time) *fakeScheduler {
	return &fakeScheduler{armed: map[reminder.JobKey]time.Time{}, now: now}
}

func (f *fakeScheduler) FireAt(event time.Time) time.Time {
	return reminder.OffsetPolicy{Offset: 24 * time.Hour}.FireAt(event)
}

func (f *fakeScheduler) Arm(key reminder.JobKey, fireAt time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse || !fireAt.After(f.now) {
		return false
	}
	f.armed[key] = fireAt
	return true
}

func (f *fakeScheduler) Cancel(key reminder.JobKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, key)
	_, ok := f.armed[key]
	delete(f.armed, key)
	return ok
}

type failingStore struct{ storage.Store }

func (failingStore) GetPoll(context.Context, string) (storage.PollRecord, bool, error) {
	return storage.PollRecord{}, false, errors.New("disk on fire")
}

func newService(t *testing.T) (*Service, *fakeScheduler, storage.Store) {
	t.Helper()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, jst)
	st := storage.NewMemory()
	fs := newFakeScheduler(now)
	svc := New(st, fs, Options{Location: jst, Now: func() time.Time { return now }})
	return svc, fs, st
}

func candidates() map[string]time.Time {
	return map[string]time.Time{
		"one":   time.Date(2024, 6, 1, 10, 0, 0, 0, jst),
		"two":   time.Date(2024, 6, 2, 19, 30, 0, 0, jst),
		"three": time.Date(2024, 5, 11, 9, 0, 0, 0, jst),
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "p1", "C1", nil); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("empty create err = %v", err)
	}
	p, err := svc.Create(ctx, "p1", "C1", map[string]time.Time{"1": time.Date(2024, 6, 1, 10, 0, 0, 0, jst)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := p.Candidates["one"]; !ok {
		t.Fatalf("digit tag not normalized: %v", p.Candidates)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	ctx := context.Background()
	want := candidates()
	if _, err := svc.Create(ctx, "p1", "C1", want); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, ok, err := svc.Get(ctx, "p1")
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v", ok, err)
	}
	for tag, at := range want {
		if !got.Candidates[tag].Equal(at) {
			t.Fatalf("%s: got %s want %s", tag, got.Candidates[tag], at)
		}
	}
	if tags := got.Tags(); !slices.Equal(tags, []string{"three", "one", "two"}) {
		t.Fatalf("Tags = %v", tags)
	}
}

func TestVoteIdempotenceAndAlias(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	steps := []struct {
		tag, user string
		add       bool
		changed   bool
	}{
		{"one", "U1", true, true},
		{"one", "U1", true, false},
		{"1", "U1", true, false}, // alias of one
		{"1", "U2", true, true},
		{"four", "U1", true, false}, // not a candidate
		{"two", "U3", true, true},
		{"two", "U3", false, true},
		{"two", "U3", false, false},
	}
	for i, s := range steps {
		var changed bool
		var err error
		if s.add {
			changed, err = svc.RecordVote(ctx, "p1", s.tag, s.user)
		} else {
			changed, err = svc.RemoveVote(ctx, "p1", s.tag, s.user)
		}
		if err != nil || changed != s.changed {
			t.Fatalf("step %d (%+v): changed=%v err=%v", i, s, changed, err)
		}
	}

	p, _, _ := svc.Get(ctx, "p1")
	if !slices.Equal(p.Participants["one"], []string{"U1", "U2"}) {
		t.Fatalf("one participants = %v", p.Participants["one"])
	}
	if _, ok := p.Participants["two"]; ok {
		t.Fatalf("emptied tag entry kept: %v", p.Participants)
	}

	if changed, err := svc.RecordVote(ctx, "missing", "one", "U1"); changed || err != nil {
		t.Fatalf("vote on unknown poll changed=%v err=%v", changed, err)
	}
}

func TestDecideMultipleTagsArmIndependently(t *testing.T) {
	t.Parallel()

	svc, fs, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	d, err := svc.Decide(ctx, "p1", []string{"one", "2", "nine"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(d.Selections) != 2 || !slices.Equal(d.Ignored, []string{"nine"}) {
		t.Fatalf("decision = %+v", d)
	}
	wantOne := time.Date(2024, 5, 31, 10, 0, 0, 0, jst)
	wantTwo := time.Date(2024, 6, 1, 19, 30, 0, 0, jst)
	if got := fs.armed[reminder.JobKey{PollID: "p1", Tag: "one"}]; !got.Equal(wantOne) {
		t.Fatalf("one armed at %s, want %s", got, wantOne)
	}
	if got := fs.armed[reminder.JobKey{PollID: "p1", Tag: "two"}]; !got.Equal(wantTwo) {
		t.Fatalf("two armed at %s, want %s", got, wantTwo)
	}

	p, _, _ := svc.Get(ctx, "p1")
	if len(p.Selections) != 2 || !p.Selections[0].Armed || !p.Selections[1].Armed {
		t.Fatalf("persisted selections = %+v", p.Selections)
	}
}

func TestDecidePastDueArmsNothing(t *testing.T) {
	t.Parallel()

	svc, fs, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// "three" is 21h away, so its 24h reminder is already past.
	d, err := svc.Decide(ctx, "p1", []string{"three"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(d.Selections) != 1 || d.Selections[0].Armed {
		t.Fatalf("selection = %+v", d.Selections)
	}
	if len(fs.armed) != 0 {
		t.Fatalf("armed = %v", fs.armed)
	}
}

func TestDecideErrors(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Decide(ctx, "missing", []string{"one"}); !errors.Is(err, ErrPollNotFound) {
		t.Fatalf("err = %v, want ErrPollNotFound", err)
	}
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	d, err := svc.Decide(ctx, "p1", []string{"nine", "ten"})
	if !errors.Is(err, ErrNoMatchingCandidate) || len(d.Ignored) != 2 {
		t.Fatalf("decision=%+v err=%v", d, err)
	}

	broken := New(failingStore{storage.NewMemory()}, newFakeScheduler(time.Now()), Options{})
	if _, err := broken.Decide(ctx, "p1", []string{"one"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestRedecideReplacesSelections(t *testing.T) {
	t.Parallel()

	svc, fs, st := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Decide(ctx, "p1", []string{"one"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	d, err := svc.Decide(ctx, "p1", []string{"two"})
	if err != nil || !d.Replaced {
		t.Fatalf("re-decide = %+v, %v", d, err)
	}
	if _, ok := fs.armed[reminder.JobKey{PollID: "p1", Tag: "one"}]; ok {
		t.Fatalf("old selection still armed")
	}
	rec, _, _ := st.GetPoll(ctx, "p1")
	if len(rec.Selections) != 1 || rec.Selections[0].Tag != "two" {
		t.Fatalf("persisted = %+v", rec.Selections)
	}

	// Re-creating the poll drops selections and timers.
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(fs.armed) != 0 {
		t.Fatalf("timers survived re-create: %v", fs.armed)
	}
	rec, _, _ = st.GetPoll(ctx, "p1")
	if len(rec.Selections) != 0 || rec.HasPending() {
		t.Fatalf("re-created record kept selections: %+v", rec)
	}
}

func TestRedecideKeepsSentFlag(t *testing.T) {
	t.Parallel()

	svc, fs, st := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Decide(ctx, "p1", []string{"one"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	rec, _, _ := st.GetPoll(ctx, "p1")
	rec.Selections[0].Sent = true
	if err := st.UpdatePoll(ctx, rec); err != nil {
		t.Fatalf("UpdatePoll: %v", err)
	}
	delete(fs.armed, reminder.JobKey{PollID: "p1", Tag: "one"})

	d, err := svc.Decide(ctx, "p1", []string{"one", "two"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Selections[0].Sent {
		t.Fatalf("sent flag lost: %+v", d.Selections[0])
	}
	if _, ok := fs.armed[reminder.JobKey{PollID: "p1", Tag: "one"}]; ok {
		t.Fatalf("sent selection re-armed")
	}
	if _, ok := fs.armed[reminder.JobKey{PollID: "p1", Tag: "two"}]; !ok {
		t.Fatalf("new selection not armed")
	}
}

func TestDecideRecordsRefusedArm(t *testing.T) {
	t.Parallel()

	svc, fs, st := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fs.refuse = true

	d, err := svc.Decide(ctx, "p1", []string{"one", "two"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	for _, sel := range d.Selections {
		if sel.Armed {
			t.Fatalf("decision reports %s armed", sel.Tag)
		}
	}
	rec, _, _ := st.GetPoll(ctx, "p1")
	for _, sel := range rec.Selections {
		if sel.Armed {
			t.Fatalf("stored selection %s still armed", sel.Tag)
		}
	}
	if rec.HasPending() {
		t.Fatalf("poll left pending")
	}
}

// interleavedStore runs once before the first UpdatePoll, so another writer
// lands between this service's read and its write.
type interleavedStore struct {
	storage.Store
	once   sync.Once
	before func()
}

func (s *interleavedStore) UpdatePoll(ctx context.Context, rec storage.PollRecord) error {
	s.once.Do(s.before)
	return s.Store.UpdatePoll(ctx, rec)
}

func sharedSQLite(t *testing.T) (storage.Store, storage.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polls.db")
	open := func() storage.Store {
		st, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	}
	return open(), open()
}

func TestInstancesSharingStoreKeepBothVotes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, jst)
	clock := func() time.Time { return now }
	stA, stB := sharedSQLite(t)

	b := New(stB, newFakeScheduler(now), Options{Locks: keylock.New(), Location: jst, Now: clock})
	racing := &interleavedStore{Store: stA, before: func() {
		if _, err := b.RecordVote(ctx, "p1", "one", "U2"); err != nil {
			t.Errorf("instance b vote: %v", err)
		}
	}}
	a := New(racing, newFakeScheduler(now), Options{Locks: keylock.New(), Location: jst, Now: clock})

	if _, err := b.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	changed, err := a.RecordVote(ctx, "p1", "one", "U1")
	if err != nil || !changed {
		t.Fatalf("instance a vote changed=%v err=%v", changed, err)
	}

	p, _, _ := b.Get(ctx, "p1")
	if got := p.Participants["one"]; !slices.Equal(got, []string{"U1", "U2"}) {
		t.Fatalf("participants = %v, want [U1 U2]", got)
	}
}

func TestDecideRetriesOverConcurrentVote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, jst)
	clock := func() time.Time { return now }
	stA, stB := sharedSQLite(t)

	b := New(stB, newFakeScheduler(now), Options{Locks: keylock.New(), Location: jst, Now: clock})
	racing := &interleavedStore{Store: stA, before: func() {
		if _, err := b.RecordVote(ctx, "p1", "two", "U5"); err != nil {
			t.Errorf("instance b vote: %v", err)
		}
	}}
	fs := newFakeScheduler(now)
	a := New(racing, fs, Options{Locks: keylock.New(), Location: jst, Now: clock})

	if _, err := b.Create(ctx, "p1", "C1", candidates()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := a.Decide(ctx, "p1", []string{"two"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	p, _, _ := b.Get(ctx, "p1")
	if !slices.Equal(p.Participants["two"], []string{"U5"}) {
		t.Fatalf("vote lost by decision: %v", p.Participants)
	}
	if len(p.Selections) != 1 || p.Selections[0].Tag != "two" || !p.Selections[0].Armed {
		t.Fatalf("selections = %+v", p.Selections)
	}
	if _, ok := fs.armed[reminder.JobKey{PollID: "p1", Tag: "two"}]; !ok {
		t.Fatalf("reminder not armed after retry")
	}
}
