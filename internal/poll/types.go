package poll

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"pollbot/internal/storage"
)

// Poll is the in-memory view of one poll record.
type Poll struct {
	ID        string
	ChannelID string

	Candidates   map[string]time.Time
	Participants map[string][]string
	Selections   []Selection

	CreatedAt time.Time
	UpdatedAt time.Time

	// version is the store version this view was read at.
	version int64
}

// Selection is a decided candidate. Armed means a reminder will fire at FireAt.
type Selection struct {
	Tag    string
	At     time.Time
	FireAt time.Time
	Armed  bool
	Sent   bool
}

// Decided reports whether any candidate has been selected.
func (p Poll) Decided() bool { return len(p.Selections) > 0 }

// Tags returns candidate tags ordered by time, then tag.
func (p Poll) Tags() []string {
	tags := slices.Collect(maps.Keys(p.Candidates))
	slices.SortFunc(tags, func(a, b string) int {
		if c := p.Candidates[a].Compare(p.Candidates[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return tags
}

func toRecord(p Poll) storage.PollRecord {
	rec := storage.PollRecord{
		ID:         p.ID,
		ChannelID:  p.ChannelID,
		Candidates: make(map[string]string, len(p.Candidates)),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
		Version:    p.version,
	}
	for tag, at := range p.Candidates {
		rec.Candidates[tag] = storage.FormatTime(at)
	}
	if len(p.Participants) > 0 {
		rec.Participants = make(map[string][]string, len(p.Participants))
		for tag, users := range p.Participants {
			rec.Participants[tag] = slices.Sorted(slices.Values(users))
		}
	}
	for _, s := range p.Selections {
		rec.Selections = append(rec.Selections, storage.SelectionRecord{
			Tag:    s.Tag,
			At:     storage.FormatTime(s.At),
			FireAt: storage.FormatTime(s.FireAt),
			Armed:  s.Armed,
			Sent:   s.Sent,
		})
	}
	return rec
}

func fromRecord(rec storage.PollRecord, loc *time.Location) (Poll, error) {
	p := Poll{
		ID:           rec.ID,
		ChannelID:    rec.ChannelID,
		Candidates:   make(map[string]time.Time, len(rec.Candidates)),
		Participants: make(map[string][]string, len(rec.Participants)),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		version:      rec.Version,
	}
	for tag, raw := range rec.Candidates {
		at, err := storage.ParseTime(raw)
		if err != nil {
			return Poll{}, fmt.Errorf("poll %s candidate %s: %w", rec.ID, tag, err)
		}
		p.Candidates[tag] = at.In(loc)
	}
	for tag, users := range rec.Participants {
		p.Participants[tag] = slices.Clone(users)
	}
	for _, s := range rec.Selections {
		at, err := storage.ParseTime(s.At)
		if err != nil {
			return Poll{}, fmt.Errorf("poll %s selection %s: %w", rec.ID, s.Tag, err)
		}
		fireAt, err := storage.ParseTime(s.FireAt)
		if err != nil {
			return Poll{}, fmt.Errorf("poll %s selection %s: %w", rec.ID, s.Tag, err)
		}
		sel := Selection{Tag: s.Tag, At: at.In(loc), Armed: s.Armed, Sent: s.Sent}
		if !fireAt.IsZero() {
			sel.FireAt = fireAt.In(loc)
		}
		p.Selections = append(p.Selections, sel)
	}
	return p, nil
}
