package transport

import "context"

type UpdateKind string

const (
	UpdateMention  UpdateKind = "mention"
	UpdateReaction UpdateKind = "reaction"
)

type Update struct {
	Kind     UpdateKind
	Mention  *Mention
	Reaction *Reaction
}

// Mention is a message addressed to the bot.
type Mention struct {
	UserID    string
	ChannelID string
	Text      string
	MessageID string
	// ThreadRootID is the id of the thread parent when the mention is a
	// threaded reply ("" otherwise).
	ThreadRootID string
}

// InThread reports whether the mention is a reply inside another message's thread.
func (m *Mention) InThread() bool {
	return m != nil && m.ThreadRootID != "" && m.ThreadRootID != m.MessageID
}

// Reaction is an emoji reaction added to (or removed from) a message.
type Reaction struct {
	Emoji           string
	UserID          string
	TargetMessageID string
	ChannelID       string
	Removed         bool
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type SendOptions struct {
	// ThreadID posts the message as a threaded reply.
	ThreadID string
	// DisablePreview suppresses link unfurling.
	DisablePreview bool
}

// Notification is a single outbound message handed to the notifier.
type Notification struct {
	ChannelID string
	// UserID makes the notification ephemeral (visible only to that user).
	UserID  string
	Text    string
	Options *SendOptions
	// Key identifies the notification in history and events.
	Key string
}

// Gateway is the outbound half of the chat transport.
type Gateway interface {
	PostMessage(ctx context.Context, channelID, text string, opt *SendOptions) (MessageRef, error)
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
}

// Handler processes one inbound update. A non-nil error asks the transport to
// report failure upstream so the platform redelivers the event.
type Handler func(ctx context.Context, u Update) error

// Adapter is a full chat transport.
type Adapter interface {
	Gateway

	Start(ctx context.Context, h Handler) error
	Stop(ctx context.Context) error
}
