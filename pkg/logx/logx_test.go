package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "pollbot/internal/transport"
)

func bufferLogger(buf *bytes.Buffer) Logger {
	zl := zerolog.New(buf).Level(zerolog.DebugLevel)
	return Logger{base: &zl}
}

func TestLoggerFieldsAndCaller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := bufferLogger(&buf).With(String("poll", "p1"))
	log.Warn("reminder delivery failed", String("tag", "one"), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if m["poll"] != "p1" || m["tag"] != "one" || m["message"] != "reminder delivery failed" {
		t.Fatalf("line = %v", m)
	}
	if caller, _ := m["caller"].(string); !strings.HasPrefix(caller, "logx_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroLoggerDiscards(t *testing.T) {
	t.Parallel()

	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatalf("IsZero mismatch")
	}
	zero.Error("nothing happens")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" INFO ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"loud":    zerolog.WarnLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.WarnLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatOpsLine(t *testing.T) {
	t.Parallel()

	line := `{"level":"warn","time":"x","message":"reminder delivery failed","attempt":2,"err":"timeout","poll":"171.1","tag":"one"}`
	got := formatOpsLine([]byte(line))
	want := "*WARN* reminder delivery failed\n```\npoll=171.1\ntag=one\nerr=timeout\nattempt=2\n```"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}

	if got := formatOpsLine([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
	if got := formatOpsLine([]byte(`{"level":"error","message":"bare"}`)); got != "*ERROR* bare" {
		t.Fatalf("bare = %q", got)
	}
}

type postRecorder struct {
	mu    sync.Mutex
	posts []string
}

func (p *postRecorder) PostMessage(_ context.Context, channelID, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	p.mu.Lock()
	p.posts = append(p.posts, channelID+"|"+text)
	p.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (p *postRecorder) PostEphemeral(context.Context, string, string, string) error { return nil }

func (p *postRecorder) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posts...)
}

func TestOpsSinkPostsAboveMinLevel(t *testing.T) {
	t.Parallel()

	rec := &postRecorder{}
	sink := newOpsSink(rec)
	sink.setChannel("COPS")
	sink.configure(zerolog.WarnLevel, 10)
	defer sink.stop()

	zl := zerolog.New(sink).Level(zerolog.DebugLevel)
	log := Logger{base: &zl}
	log.Info("poll created", String("poll", "p1"))
	log.Error("store unavailable", String("poll", "p1"))

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	posts := rec.all()
	if len(posts) != 1 || !strings.HasPrefix(posts[0], "COPS|*ERROR* store unavailable") {
		t.Fatalf("posts = %q", posts)
	}
}
