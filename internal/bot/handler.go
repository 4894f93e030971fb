// Package bot turns inbound chat updates into poll operations and replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pollbot/internal/datetext"
	"pollbot/internal/poll"
	kit "pollbot/internal/transport"
	logx "pollbot/pkg/logx"
)

// Polls is the poll registry as seen by the handler.
type Polls interface {
	Create(ctx context.Context, id, channelID string, candidates map[string]time.Time) (poll.Poll, error)
	RecordVote(ctx context.Context, id, tag, userID string) (bool, error)
	RemoveVote(ctx context.Context, id, tag, userID string) (bool, error)
	Decide(ctx context.Context, id string, tags []string) (poll.Decision, error)
}

// Sender delivers replies.
type Sender interface {
	Send(ctx context.Context, n kit.Notification) error
}

type Options struct {
	Location *time.Location
	Log      logx.Logger
	Now      func() time.Time
}

type Handler struct {
	polls  Polls
	sender Sender
	loc    *time.Location
	log    logx.Logger
	now    func() time.Time
}

func New(polls Polls, sender Sender, opts Options) *Handler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{polls: polls, sender: sender, loc: opts.Location, log: opts.Log, now: opts.Now}
}

// Handle is a kit.Handler. It returns an error only for store or gateway
// failures, so the transport can ask for redelivery; every other outcome is
// a reply or a logged no-op.
func (h *Handler) Handle(ctx context.Context, u kit.Update) error {
	switch u.Kind {
	case kit.UpdateMention:
		if u.Mention == nil {
			return nil
		}
		if u.Mention.InThread() {
			if tags := datetext.FindTags(u.Mention.Text); len(tags) > 0 {
				return h.decide(ctx, u.Mention, tags)
			}
		}
		return h.create(ctx, u.Mention)
	case kit.UpdateReaction:
		if u.Reaction == nil {
			return nil
		}
		return h.vote(ctx, u.Reaction)
	default:
		return nil
	}
}

func (h *Handler) create(ctx context.Context, m *kit.Mention) error {
	log := h.log.With(logx.String("poll", m.MessageID), logx.String("user", m.UserID))
	res := datetext.Extract(m.Text, h.now(), h.loc)
	for _, f := range res.Failures {
		log.Debug("candidate line skipped", logx.Int("line", f.Line), logx.String("text", f.Text), logx.Err(f.Err))
	}

	if res.Len() == 0 {
		log.Info("mention without candidates", logx.Int("failed_lines", len(res.Failures)))
		return h.reply(ctx, m, nothingParsed(res.Failures))
	}

	_, err := h.polls.Create(ctx, m.MessageID, m.ChannelID, res.Times())
	switch {
	case err == nil:
	case errors.Is(err, poll.ErrNoCandidates):
		log.Info("mention without candidates")
		return h.reply(ctx, m, nothingParsed(nil))
	default:
		log.Error("poll create failed", logx.Err(err))
		_ = h.reply(ctx, m, msgInternalError)
		return err
	}
	log.Info("poll recorded", logx.Strings("tags", res.Order))
	return h.reply(ctx, m, candidatesAck(m.UserID, res))
}

func (h *Handler) decide(ctx context.Context, m *kit.Mention, tags []string) error {
	log := h.log.With(logx.String("poll", m.ThreadRootID), logx.String("user", m.UserID))
	d, err := h.polls.Decide(ctx, m.ThreadRootID, tags)
	switch {
	case err == nil:
	case errors.Is(err, poll.ErrPollNotFound):
		log.Info("decision outside a poll thread")
		return h.reply(ctx, m, msgNotAPoll)
	case errors.Is(err, poll.ErrNoMatchingCandidate):
		log.Info("decision matched no candidate", logx.Strings("tags", tags))
		return h.reply(ctx, m, msgNoMatch)
	default:
		log.Error("decision failed", logx.Err(err))
		_ = h.reply(ctx, m, msgInternalError)
		return err
	}

	for _, sel := range d.Selections {
		log.Info("candidate selected",
			logx.String("tag", sel.Tag),
			logx.String("at", formatTime(sel.At)),
			logx.Bool("reminder", sel.Armed && !sel.Sent),
		)
	}
	err = h.sender.Send(ctx, kit.Notification{
		ChannelID: m.ChannelID,
		Text:      decisionText(d),
		Options:   &kit.SendOptions{ThreadID: m.ThreadRootID},
		Key:       "decision/" + m.MessageID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", poll.ErrGatewayUnavailable, err)
	}
	return nil
}

func (h *Handler) vote(ctx context.Context, r *kit.Reaction) error {
	var (
		changed bool
		err     error
	)
	if r.Removed {
		changed, err = h.polls.RemoveVote(ctx, r.TargetMessageID, r.Emoji, r.UserID)
	} else {
		changed, err = h.polls.RecordVote(ctx, r.TargetMessageID, r.Emoji, r.UserID)
	}
	if err != nil {
		h.log.Error("vote failed", logx.String("poll", r.TargetMessageID), logx.String("emoji", r.Emoji), logx.Err(err))
		return err
	}
	if changed {
		h.log.Info("vote recorded",
			logx.String("poll", r.TargetMessageID),
			logx.String("tag", datetext.NormalizeTag(r.Emoji)),
			logx.String("user", r.UserID),
			logx.Bool("removed", r.Removed),
		)
	}
	return nil
}

// reply posts an ephemeral message to the mentioning user.
func (h *Handler) reply(ctx context.Context, m *kit.Mention, text string) error {
	err := h.sender.Send(ctx, kit.Notification{ChannelID: m.ChannelID, UserID: m.UserID, Text: text})
	if err != nil {
		return fmt.Errorf("%w: %w", poll.ErrGatewayUnavailable, err)
	}
	return nil
}
