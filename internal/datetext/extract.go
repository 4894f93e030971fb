package datetext

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrParseFailure marks a candidate line whose description could not be
// turned into an absolute datetime. Extraction skips such lines.
var ErrParseFailure = errors.New("no recognizable date or time")

// reSeparator is the optional colon between a shortcode and its
// description; it may be full-width.
var reSeparator = regexp.MustCompile(`^\s*[:：]?\s*`)

// Candidate is one parsed poll option.
type Candidate struct {
	Tag  string
	At   time.Time
	Line string

	// DatePattern and TimePattern name the table rows that matched ("" when
	// the component was defaulted).
	DatePattern string
	TimePattern string
}

// LineFailure reports a qualifying line that yielded no candidate.
type LineFailure struct {
	Line int // 1-based
	Text string
	Err  error
}

// Result is the outcome of Extract.
type Result struct {
	// Candidates maps canonical tag to its candidate. When two lines use
	// the same tag the later line wins.
	Candidates map[string]Candidate
	// Order lists tags in the order their final line appeared.
	Order    []string
	Failures []LineFailure
}

// Len reports the number of candidates.
func (r Result) Len() int { return len(r.Candidates) }

// Times returns the tag to datetime mapping.
func (r Result) Times() map[string]time.Time {
	out := make(map[string]time.Time, len(r.Candidates))
	for tag, c := range r.Candidates {
		out[tag] = c.At
	}
	return out
}

// Extract parses every qualifying line of text relative to now in loc.
//
// Lines without a shortcode, or with a shortcode but no description, are not
// candidate lines and are ignored silently. Qualifying lines that cannot be
// resolved are listed in Result.Failures.
func Extract(text string, now time.Time, loc *time.Location) Result {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	res := Result{Candidates: map[string]Candidate{}}
	for i, line := range strings.Split(text, "\n") {
		tag, desc, ok := splitCandidateLine(line)
		if !ok || tag == "" || desc == "" {
			continue
		}

		c, err := parseLine(desc, now, loc)
		if err != nil {
			res.Failures = append(res.Failures, LineFailure{Line: i + 1, Text: strings.TrimSpace(line), Err: err})
			continue
		}
		c.Tag = tag
		c.Line = strings.TrimSpace(line)

		if _, dup := res.Candidates[tag]; dup {
			res.Order = removeTag(res.Order, tag)
		}
		res.Candidates[tag] = c
		res.Order = append(res.Order, tag)
	}
	return res
}

// splitCandidateLine returns the first shortcode of line and the text after
// it. Clock readings such as "12:30:00" are not shortcodes.
func splitCandidateLine(line string) (tag, desc string, ok bool) {
	for _, m := range reShortcode.FindAllStringSubmatchIndex(line, -1) {
		name := line[m[2]:m[3]]
		if !isShortcodeName(name) {
			continue
		}
		rest := line[m[1]:]
		rest = rest[len(reSeparator.FindString(rest)):]
		return NormalizeTag(name), strings.TrimSpace(rest), true
	}
	return "", "", false
}

// ParseDateTime resolves a single description the same way Extract resolves
// a candidate line.
func ParseDateTime(desc string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	c, err := parseLine(desc, now.In(loc), loc)
	if err != nil {
		return time.Time{}, err
	}
	return c.At, nil
}

func parseLine(desc string, now time.Time, loc *time.Location) (Candidate, error) {
	s := normalize(desc)

	d, dateName, hasDate := matchDate(s)
	t, timeName, hasTime := matchTime(s)
	if !hasDate && !hasTime {
		return Candidate{}, fmt.Errorf("%w: %q", ErrParseFailure, desc)
	}

	if d.year == 0 {
		d.year = now.Year()
	}
	if d.month == 0 {
		d.month = int(now.Month())
	}
	if d.day == 0 {
		d.day = now.Day()
	}

	at, err := compose(d, t, loc)
	if err != nil {
		return Candidate{}, err
	}
	if at.Before(now) {
		d.year++
		if at, err = compose(d, t, loc); err != nil {
			return Candidate{}, err
		}
	}
	return Candidate{At: at, DatePattern: dateName, TimePattern: timeName}, nil
}

// compose builds the instant and rejects anything time.Date would silently
// normalize (5/32, Feb 29 on a common year, 24:00, xx:60).
func compose(d dateFields, t clockFields, loc *time.Location) (time.Time, error) {
	if t.hour < 0 || t.hour > 23 || t.minute < 0 || t.minute > 59 {
		return time.Time{}, fmt.Errorf("%w: invalid time of day %02d:%02d", ErrParseFailure, t.hour, t.minute)
	}
	if d.month < 1 || d.month > 12 || d.day < 1 {
		return time.Time{}, fmt.Errorf("%w: invalid calendar date %04d-%02d-%02d", ErrParseFailure, d.year, d.month, d.day)
	}
	at := time.Date(d.year, time.Month(d.month), d.day, t.hour, t.minute, 0, 0, loc)
	if at.Year() != d.year || int(at.Month()) != d.month || at.Day() != d.day {
		return time.Time{}, fmt.Errorf("%w: invalid calendar date %04d-%02d-%02d", ErrParseFailure, d.year, d.month, d.day)
	}
	return at, nil
}

func removeTag(order []string, tag string) []string {
	n := 0
	for _, t := range order {
		if t == tag {
			continue
		}
		order[n] = t
		n++
	}
	return order[:n]
}
