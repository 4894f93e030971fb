package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "pollbot/internal/transport"
)

const (
	opsQueueSize   = 256
	opsMessageMax  = 3000
	opsFieldMax    = 500
	opsChannelWarn = "logx: operator log sink enabled without slack.log_channel\n"
)

// leading keys are shown first so a line about a poll reads at a glance.
var leading = []string{"poll", "tag", "user", "channel", "err"}

// opsSink is a zerolog.LevelWriter that posts lines to the operator channel
// from its own goroutine. Writes never block; lines over the rate or the
// queue are dropped.
type opsSink struct {
	gw    kit.Gateway
	queue chan string

	mu       sync.Mutex
	channel  string
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
	warned   bool
}

func newOpsSink(gw kit.Gateway) *opsSink {
	return &opsSink{gw: gw, queue: make(chan string, opsQueueSize), minLevel: zerolog.WarnLevel}
}

func (o *opsSink) setChannel(id string) {
	o.mu.Lock()
	o.channel = id
	o.mu.Unlock()
}

func (o *opsSink) configure(minLevel zerolog.Level, perSec int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.minLevel = minLevel
	o.limiter = rateOf(perSec)
	if o.channel == "" && !o.warned {
		o.warned = true
		fmt.Fprint(os.Stderr, opsChannelWarn)
	}
	if o.cancel != nil || o.gw == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx, o.done)
}

func (o *opsSink) stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (o *opsSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-o.queue:
			o.mu.Lock()
			channel := o.channel
			o.mu.Unlock()
			if channel == "" {
				continue
			}
			_, _ = o.gw.PostMessage(ctx, channel, text, &kit.SendOptions{DisablePreview: true})
		}
	}
}

func (o *opsSink) Write(p []byte) (int, error) { return o.WriteLevel(zerolog.InfoLevel, p) }

func (o *opsSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	ok := o.gw != nil && o.channel != "" && o.limiter != nil && level >= o.minLevel && o.limiter.Allow()
	o.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	select {
	case o.queue <- formatOpsLine(p):
	default:
	}
	return len(p), nil
}

// formatOpsLine turns one JSON log line into Slack mrkdwn: the level and
// message in bold, then the fields in a code block.
func formatOpsLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, opsMessageMax)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	delete(m, "level")
	delete(m, "message")
	delete(m, "time")

	var b strings.Builder
	fmt.Fprintf(&b, "*%s* %s", strings.ToUpper(lvl), msg)
	if len(m) == 0 {
		return clip(b.String(), opsMessageMax)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, c string) int {
		ia, ic := rank(a), rank(c)
		if ia != ic {
			return ia - ic
		}
		return strings.Compare(a, c)
	})
	b.WriteString("\n```")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, clip(fmt.Sprint(m[k]), opsFieldMax))
	}
	b.WriteString("\n```")
	return clip(b.String(), opsMessageMax)
}

func rank(key string) int {
	if i := slices.Index(leading, key); i >= 0 {
		return i
	}
	return len(leading)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
