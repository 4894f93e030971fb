package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pollbot/internal/eventbus"
	logx "pollbot/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var ran atomic.Int32
	if err := s.Enqueue(Task{Name: "hello", Run: func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case e := <-events:
		if e.Type != eventbus.TaskFinished {
			t.Fatalf("event type = %q", e.Type)
		}
		te := e.Data.(TaskEvent)
		if te.Name != "hello" || te.ID == "" || te.Attempts != 1 {
			t.Fatalf("unexpected event %+v", te)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no task event")
	}
	if ran.Load() != 1 {
		t.Fatalf("ran %d times", ran.Load())
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if err := s.Enqueue(Task{Name: " ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestRetryAndNoRetry(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, RetryMax: 2, RetryBase: time.Millisecond}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var flaky atomic.Int32
	_ = s.Enqueue(Task{Name: "flaky", Run: func(context.Context) error {
		if flaky.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	var permanent atomic.Int32
	_ = s.Enqueue(Task{Name: "permanent", Run: func(context.Context) error {
		permanent.Add(1)
		return NoRetry(errors.New("gone"))
	}})

	waitFor(t, func() bool { return len(s.Snapshot().History) == 2 })

	if flaky.Load() != 3 {
		t.Fatalf("flaky attempts = %d, want 3", flaky.Load())
	}
	if permanent.Load() != 1 {
		t.Fatalf("permanent attempts = %d, want 1", permanent.Load())
	}
	for _, h := range s.Snapshot().History {
		switch h.Name {
		case "flaky":
			if h.Error != "" || h.Attempts != 3 {
				t.Fatalf("flaky history %+v", h)
			}
		case "permanent":
			if h.Error != "gone" || h.Attempts != 1 {
				t.Fatalf("permanent history %+v", h)
			}
		}
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Enqueue(Task{Name: "boom", RetryMax: -1, Run: func(context.Context) error { panic("boom") }})
	var after atomic.Bool
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { after.Store(true); return nil }})

	waitFor(t, after.Load)
	h := s.Snapshot().History
	if len(h) == 0 || h[0].Error != "panic: boom" {
		t.Fatalf("history = %+v", h)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}})
	<-started
	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}
	if err := s.Enqueue(noop); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := s.Enqueue(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	close(block)
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("dropped = %d", got)
	}
}
