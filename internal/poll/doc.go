// Package poll manages the lifecycle of date polls: creation from extracted
// candidates, reaction votes, and decisions that select candidates and arm
// their reminders.
//
// Every mutation on a poll id runs under a per-id lock and goes straight to
// the store; there is no in-memory cache of polls.
package poll
