package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pollbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps each poll as a JSON body plus the columns needed to
// query pending reminders without decoding every row.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	// Databases created before optimistic locking lack the version column.
	has, err := s.hasColumn(ctx, "polls", "version")
	if err != nil || has {
		return err
	}
	_, err = s.db.ExecContext(ctx, `ALTER TABLE polls ADD COLUMN version INTEGER NOT NULL DEFAULT 1`)
	return err
}

func (s *sqliteStore) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutPoll(ctx context.Context, rec PollRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO polls(id, channel_id, body, has_pending, created_at, updated_at, version)
		 VALUES(?,?,?,?,?,?,1)
		 ON CONFLICT(id) DO UPDATE SET
		   channel_id=excluded.channel_id,
		   body=excluded.body,
		   has_pending=excluded.has_pending,
		   created_at=excluded.created_at,
		   updated_at=excluded.updated_at,
		   version=polls.version+1`,
		rec.ID, rec.ChannelID, string(body), boolInt(rec.HasPending()),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) UpdatePoll(ctx context.Context, rec PollRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE polls SET channel_id=?, body=?, has_pending=?, updated_at=?, version=version+1
		 WHERE id=? AND version=?`,
		rec.ChannelID, string(body), boolInt(rec.HasPending()),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano), rec.ID, rec.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM polls WHERE id = ?`, rec.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *sqliteStore) GetPoll(ctx context.Context, id string) (PollRecord, bool, error) {
	var (
		body    string
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT body, version FROM polls WHERE id = ?`, id).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return PollRecord{}, false, nil
	}
	if err != nil {
		return PollRecord{}, false, err
	}
	var rec PollRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return PollRecord{}, false, fmt.Errorf("decode poll %s: %w", id, err)
	}
	rec.Version = version
	return rec, true, nil
}

func (s *sqliteStore) ListPendingReminders(ctx context.Context) ([]PollRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, body, version FROM polls WHERE has_pending = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PollRecord
	for rows.Next() {
		var (
			id, body string
			version  int64
		)
		if err := rows.Scan(&id, &body, &version); err != nil {
			return nil, err
		}
		var rec PollRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			s.log.Warn("skipping undecodable poll", logx.String("poll", id), logx.Err(err))
			continue
		}
		rec.Version = version
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
