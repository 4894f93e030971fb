// Package slack connects the bot to a Slack workspace: outbound posts through
// the Web API and inbound events through the Events API HTTP endpoint.
package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"

	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

type Config struct {
	BotToken      string
	SigningSecret string
	// APIURL overrides the Web API base URL; it must end with "/".
	APIURL string
	// HandlerTimeout bounds processing of one inbound event.
	HandlerTimeout time.Duration
}

// Adapter implements kit.Adapter for Slack.
type Adapter struct {
	client *slackapi.Client
	secret string
	log    logx.Logger

	mu      sync.RWMutex
	handler kit.Handler
	timeout time.Duration
}

var ErrNotStarted = errors.New("slack adapter not started")

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("slack bot token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var opts []slackapi.Option
	if u := strings.TrimSpace(cfg.APIURL); u != "" {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slackapi.OptionAPIURL(u))
	}
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	if cfg.SigningSecret == "" {
		log.Warn("slack signing secret not set; inbound requests are not verified")
	}
	return &Adapter{
		client:  slackapi.New(token, opts...),
		secret:  cfg.SigningSecret,
		log:     log,
		timeout: timeout,
	}, nil
}

// Start installs the update handler. Events arriving before Start are
// answered with 503 so Slack redelivers them.
func (a *Adapter) Start(_ context.Context, h kit.Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
	a.log.Info("slack adapter started")
	return nil
}

func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	a.handler = nil
	a.mu.Unlock()
	a.log.Info("slack adapter stopped")
	return nil
}

// SetHandlerTimeout applies a new per-event timeout.
func (a *Adapter) SetHandlerTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.timeout = d
	a.mu.Unlock()
}

func (a *Adapter) current() (kit.Handler, time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.handler, a.timeout
}

func (a *Adapter) PostMessage(ctx context.Context, channelID, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	msgOpts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if opt != nil {
		if opt.ThreadID != "" {
			msgOpts = append(msgOpts, slackapi.MsgOptionTS(opt.ThreadID))
		}
		if opt.DisablePreview {
			msgOpts = append(msgOpts, slackapi.MsgOptionDisableLinkUnfurl())
		}
	}
	ch, ts, err := a.client.PostMessageContext(ctx, channelID, msgOpts...)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChannelID: ch, MessageID: ts}, nil
}

func (a *Adapter) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	_, err := a.client.PostEphemeralContext(ctx, channelID, userID, slackapi.MsgOptionText(text, false))
	return err
}
