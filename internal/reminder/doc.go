// Package reminder arms, recovers and fires one-shot reminder jobs for
// decided poll selections.
//
// A job is identified by JobKey{PollID, Tag}. Its fire time and armed flag
// live in the poll record, written before the in-process timer is set, so a
// restart can rebuild every timer from storage (Recover). Timer callbacks
// only enqueue into the task engine. The firing task re-reads the poll,
// notifies the tag's current participants and sets the reminder-sent flag.
// A crash between sending and flagging can repeat one delivery.
package reminder
