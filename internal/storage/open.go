package storage

import (
	"context"
	"errors"
	"strings"

	logx "pollbot/pkg/logx"
)

// Store is the persistence API used by the poll and reminder services.
type Store interface {
	// PutPoll creates or wholesale replaces the record at rec.ID.
	PutPoll(ctx context.Context, rec PollRecord) error
	// GetPoll returns ok=false when no record exists.
	GetPoll(ctx context.Context, id string) (rec PollRecord, ok bool, err error)
	// UpdatePoll replaces an existing record whose version still equals
	// rec.Version; ErrNotFound if absent, ErrConflict if it changed.
	UpdatePoll(ctx context.Context, rec PollRecord) error
	// ListPendingReminders returns records with at least one armed, unsent selection.
	ListPendingReminders(ctx context.Context) ([]PollRecord, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
