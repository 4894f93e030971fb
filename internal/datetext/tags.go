package datetext

import (
	"regexp"
	"strings"
)

var reShortcode = regexp.MustCompile(`:([\w+\-]+):`)

var digitWords = [...]string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}

// NormalizeTag returns the canonical form of an emoji shortcode.
//
// Surrounding colons and skin-tone suffixes ("thumbsup::skin-tone-2") are
// dropped and single ASCII digits are spelled out, so ":1:", "1" and "one"
// all address the same candidate slot.
func NormalizeTag(raw string) string {
	name := strings.Trim(strings.TrimSpace(raw), ":")
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	}
	if len(name) == 1 && name[0] >= '0' && name[0] <= '9' {
		return digitWords[name[0]-'0']
	}
	return name
}

// isShortcodeName rejects multi-digit names, which are clock or ratio
// fragments ("12:30:00" contains ":30:") rather than emoji.
func isShortcodeName(name string) bool {
	if len(name) <= 1 {
		return name != ""
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return true
		}
	}
	return false
}

// FormatTag renders a canonical tag the way chat clients display it.
func FormatTag(tag string) string { return ":" + tag + ":" }

// FindTags returns the canonical tags of every shortcode in text, in order of
// first appearance and without duplicates.
func FindTags(text string) []string {
	ms := reShortcode.FindAllStringSubmatch(text, -1)
	if len(ms) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ms))
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		if !isShortcodeName(m[1]) {
			continue
		}
		tag := NormalizeTag(m[1])
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
