package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pollbot/pkg/logx"
)

const compactEvery = 500

// fileStore keeps every poll in memory and persists it as:
//   - <prefix>.polls.snapshot.json (periodic snapshot)
//   - <prefix>.polls.journal.jsonl (append-only journal of full records)
//
// The journal is compacted into the snapshot on open and every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	polls        map[string]PollRecord
	writes       int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".polls.snapshot.json"
	journalPath := prefix + ".polls.journal.jsonl"

	polls := map[string]PollRecord{}
	if err := loadSnapshot(snapPath, polls); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, polls, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		polls:        polls,
	}
	if err := s.compactLocked(); err != nil {
		log.Warn("poll journal compact failed", logx.Err(err))
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("polls", len(polls)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) PutPoll(_ context.Context, rec PollRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Version = s.polls[rec.ID].Version + 1
	return s.writeLocked(rec)
}

func (s *fileStore) UpdatePoll(_ context.Context, rec PollRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	cur, ok := s.polls[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != rec.Version {
		return ErrConflict
	}
	rec.Version++
	return s.writeLocked(rec)
}

func (s *fileStore) GetPoll(_ context.Context, id string) (PollRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return PollRecord{}, false, ErrClosed
	}
	rec, ok := s.polls[id]
	if !ok {
		return PollRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *fileStore) ListPendingReminders(_ context.Context) ([]PollRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return pending(s.polls), nil
}

// writeLocked appends rec to the journal before making it visible.
func (s *fileStore) writeLocked(rec PollRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.polls[rec.ID] = rec.Clone()

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("poll journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.polls); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]PollRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]PollRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal lines in order. A torn final line from a
// crash mid-write is skipped.
func replayJournal(path string, out map[string]PollRecord, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var rec PollRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			log.Warn("skipping corrupt journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		if rec.ID == "" {
			continue
		}
		out[rec.ID] = rec
	}
	return sc.Err()
}
