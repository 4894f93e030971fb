// Package logx wraps zerolog for pollbot.
//
// Console output is human readable with a short caller. The optional file
// sink writes JSON lines. The operator sink posts WARN and above to a Slack
// channel, rate limited and never blocking the caller.
package logx
