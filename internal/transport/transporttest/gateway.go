// Package transporttest provides a recording gateway for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	kit "pollbot/internal/transport"
)

// Post is one recorded outbound call.
type Post struct {
	ChannelID string
	UserID    string // set for ephemeral posts
	Text      string
	ThreadID  string
}

// Gateway records every post. Err, when set, fails every call.
type Gateway struct {
	mu    sync.Mutex
	posts []Post
	seq   int
	Err   error
}

func (g *Gateway) PostMessage(_ context.Context, channelID, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return kit.MessageRef{}, g.Err
	}
	p := Post{ChannelID: channelID, Text: text}
	if opt != nil {
		p.ThreadID = opt.ThreadID
	}
	g.posts = append(g.posts, p)
	g.seq++
	return kit.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("%d.000100", g.seq)}, nil
}

func (g *Gateway) PostEphemeral(_ context.Context, channelID, userID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.posts = append(g.posts, Post{ChannelID: channelID, UserID: userID, Text: text})
	return nil
}

// SetErr changes the failure injected into subsequent calls.
func (g *Gateway) SetErr(err error) {
	g.mu.Lock()
	g.Err = err
	g.mu.Unlock()
}

// Posts returns a copy of everything recorded so far.
func (g *Gateway) Posts() []Post {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Post(nil), g.posts...)
}

// Reset drops recorded posts.
func (g *Gateway) Reset() {
	g.mu.Lock()
	g.posts = nil
	g.mu.Unlock()
}
