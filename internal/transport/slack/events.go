package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

const maxEventBody = 1 << 20

// EventsHandler serves the Events API endpoint. Every event is processed
// before the response is written; a handler error yields 500 so Slack
// retries the delivery.
func (a *Adapter) EventsHandler() http.Handler {
	return http.HandlerFunc(a.serveEvents)
}

func (a *Adapter) serveEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if a.secret != "" {
		if err := a.verify(r.Header, body); err != nil {
			a.log.Warn("slack request rejected", logx.Err(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if !json.Valid(body) {
		http.Error(w, "bad event", http.StatusBadRequest)
		return
	}
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		// Inner event types the library does not know are acknowledged and dropped.
		a.log.Debug("slack event ignored", logx.Err(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	switch ev.Type {
	case slackevents.URLVerification:
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &ch); err != nil {
			http.Error(w, "bad challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(ch.Challenge))
		return
	case slackevents.CallbackEvent:
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	u, ok := toUpdate(ev.InnerEvent)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	h, timeout := a.current()
	if h == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := a.dispatch(ctx, h, u); err != nil {
		a.log.Warn("slack event failed", logx.String("kind", string(u.Kind)), logx.String("retry", r.Header.Get("X-Slack-Retry-Num")), logx.Err(err))
		http.Error(w, "event failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *Adapter) verify(header http.Header, body []byte) error {
	sv, err := slackapi.NewSecretsVerifier(header, a.secret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// dispatch converts a handler panic into an error.
func (a *Adapter) dispatch(ctx context.Context, h kit.Handler, u kit.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("update handler panicked", logx.Any("panic", r))
			err = errors.New("handler panic")
		}
	}()
	return h(ctx, u)
}

// toUpdate maps the inner events the bot understands. Messages posted by bots
// are dropped so the bot never reacts to itself.
func toUpdate(inner slackevents.EventsAPIInnerEvent) (kit.Update, bool) {
	switch e := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		if e.BotID != "" || e.User == "" {
			return kit.Update{}, false
		}
		return kit.Update{Kind: kit.UpdateMention, Mention: &kit.Mention{
			UserID:       e.User,
			ChannelID:    e.Channel,
			Text:         e.Text,
			MessageID:    e.TimeStamp,
			ThreadRootID: e.ThreadTimeStamp,
		}}, true
	case *slackevents.ReactionAddedEvent:
		return kit.Update{Kind: kit.UpdateReaction, Reaction: &kit.Reaction{
			Emoji:           e.Reaction,
			UserID:          e.User,
			TargetMessageID: e.Item.Timestamp,
			ChannelID:       e.Item.Channel,
		}}, true
	case *slackevents.ReactionRemovedEvent:
		return kit.Update{Kind: kit.UpdateReaction, Reaction: &kit.Reaction{
			Emoji:           e.Reaction,
			UserID:          e.User,
			TargetMessageID: e.Item.Timestamp,
			ChannelID:       e.Item.Channel,
			Removed:         true,
		}}, true
	default:
		return kit.Update{}, false
	}
}
