// Package notifier delivers outbound chat messages through a transport
// gateway.
//
// Delivery is synchronous so callers (reminder firings, bot replies) learn
// whether a message went out. A token bucket (golang.org/x/time/rate) keeps
// bursts inside the workspace API limits, an optional dedup window drops
// repeated keys, and a small in-memory history is kept for diagnostics.
package notifier
