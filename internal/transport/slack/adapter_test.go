package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

const mentionBody = `{
  "type": "event_callback",
  "team_id": "T1",
  "api_app_id": "A1",
  "event": {
    "type": "app_mention",
    "user": "U1",
    "text": "<@UBOT> :one: 6/1 10:00",
    "ts": "1700000001.000200",
    "thread_ts": "1700000000.000100",
    "channel": "C1",
    "event_ts": "1700000001.000200"
  },
  "event_id": "Ev1",
  "event_time": 1700000001
}`

const reactionRemovedBody = `{
  "type": "event_callback",
  "team_id": "T1",
  "event": {
    "type": "reaction_removed",
    "user": "U2",
    "reaction": "thumbsup::skin-tone-2",
    "item": {"type": "message", "channel": "C1", "ts": "1700000000.000100"},
    "item_user": "U1",
    "event_ts": "1700000002.000300"
  }
}`

type recorder struct {
	mu      sync.Mutex
	updates []kit.Update
	err     error
}

func (r *recorder) handle(_ context.Context, u kit.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.err
}

func newAdapter(t *testing.T, secret string) (*Adapter, *recorder) {
	t.Helper()
	a, err := New(Config{BotToken: "xoxb-test", SigningSecret: secret}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &recorder{}
	if err := a.Start(context.Background(), rec.handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a, rec
}

func post(h http.Handler, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestURLVerification(t *testing.T) {
	t.Parallel()

	a, rec := newAdapter(t, "")
	w := post(a.EventsHandler(), `{"type":"url_verification","token":"x","challenge":"abc123"}`, nil)
	if w.Code != http.StatusOK || w.Body.String() != "abc123" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	if len(rec.updates) != 0 {
		t.Fatalf("challenge reached the handler")
	}
}

func TestMentionAndReactionMapping(t *testing.T) {
	t.Parallel()

	a, rec := newAdapter(t, "")
	if w := post(a.EventsHandler(), mentionBody, nil); w.Code != http.StatusOK {
		t.Fatalf("mention status %d", w.Code)
	}
	if w := post(a.EventsHandler(), reactionRemovedBody, nil); w.Code != http.StatusOK {
		t.Fatalf("reaction status %d", w.Code)
	}
	if len(rec.updates) != 2 {
		t.Fatalf("updates = %+v", rec.updates)
	}

	m := rec.updates[0].Mention
	if rec.updates[0].Kind != kit.UpdateMention || m == nil {
		t.Fatalf("first update = %+v", rec.updates[0])
	}
	if m.UserID != "U1" || m.ChannelID != "C1" || m.MessageID != "1700000001.000200" || !m.InThread() {
		t.Fatalf("mention = %+v", m)
	}

	r := rec.updates[1].Reaction
	if r == nil || !r.Removed || r.Emoji != "thumbsup::skin-tone-2" || r.TargetMessageID != "1700000000.000100" || r.UserID != "U2" {
		t.Fatalf("reaction = %+v", r)
	}
}

func TestHandlerErrorAsksForRedelivery(t *testing.T) {
	t.Parallel()

	a, rec := newAdapter(t, "")
	rec.err = errors.New("store down")
	if w := post(a.EventsHandler(), mentionBody, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", w.Code)
	}
	if w := post(a.EventsHandler(), "not json", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestNotStartedIsUnavailable(t *testing.T) {
	t.Parallel()

	a, _ := newAdapter(t, "")
	_ = a.Stop(context.Background())
	if w := post(a.EventsHandler(), mentionBody, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", w.Code)
	}
}

func sign(secret, ts, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSigningSecret(t *testing.T) {
	t.Parallel()

	a, rec := newAdapter(t, "s3cret")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	good := http.Header{}
	good.Set("X-Slack-Request-Timestamp", ts)
	good.Set("X-Slack-Signature", sign("s3cret", ts, mentionBody))
	if w := post(a.EventsHandler(), mentionBody, good); w.Code != http.StatusOK {
		t.Fatalf("signed request status %d", w.Code)
	}

	bad := http.Header{}
	bad.Set("X-Slack-Request-Timestamp", ts)
	bad.Set("X-Slack-Signature", sign("wrong", ts, mentionBody))
	if w := post(a.EventsHandler(), mentionBody, bad); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature status %d", w.Code)
	}
	if w := post(a.EventsHandler(), mentionBody, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status %d", w.Code)
	}
	if len(rec.updates) != 1 {
		t.Fatalf("handler saw %d updates, want 1", len(rec.updates))
	}
}

func TestPostMessageThreaded(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen = map[string]string{}
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		seen["path"] = r.URL.Path
		seen["channel"] = r.PostForm.Get("channel")
		seen["thread_ts"] = r.PostForm.Get("thread_ts")
		seen["text"] = r.PostForm.Get("text")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat.postMessage":
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000009.000900"}`))
		case "/chat.postEphemeral":
			_, _ = w.Write([]byte(`{"ok":true,"message_ts":"1700000010.000100"}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error":"unknown_method"}`))
		}
	}))
	defer api.Close()

	a, err := New(Config{BotToken: "xoxb-test", APIURL: api.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ref, err := a.PostMessage(context.Background(), "C1", "決定しました", &kit.SendOptions{ThreadID: "1700000000.000100"})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ref.MessageID != "1700000009.000900" || ref.ChannelID != "C1" {
		t.Fatalf("ref = %+v", ref)
	}
	mu.Lock()
	if seen["path"] != "/chat.postMessage" || seen["thread_ts"] != "1700000000.000100" || seen["text"] != "決定しました" {
		t.Fatalf("request = %v", seen)
	}
	mu.Unlock()

	if err := a.PostEphemeral(context.Background(), "C1", "U1", "hi"); err != nil {
		t.Fatalf("PostEphemeral: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen["path"] != "/chat.postEphemeral" {
		t.Fatalf("ephemeral path = %q", seen["path"])
	}
}
