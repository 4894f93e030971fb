package datetext

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	reWeekdayParen   = regexp.MustCompile(`\(\s*[月火水木金土日](?:曜日?)?\s*\)`)
	reWeekdayWord    = regexp.MustCompile(`[月火水木金土日]曜日?`)
	reWeekdayEnglish = regexp.MustCompile(`(?i)\(\s*(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?\s*\)`)
	reHiragana       = regexp.MustCompile(`\p{Hiragana}+`)
	reSpaces         = regexp.MustCompile(`\s+`)
)

// normalize folds a candidate description into the shape the pattern tables
// expect. It never fails; text that still matches nothing is reported by the
// caller.
func normalize(s string) string {
	// Full-width digits, colon, slash, parentheses and the ideographic space
	// all have narrow counterparts.
	s = width.Narrow.String(s)
	s = reWeekdayParen.ReplaceAllString(s, " ")
	s = reWeekdayEnglish.ReplaceAllString(s, " ")
	s = reWeekdayWord.ReplaceAllString(s, " ")
	s = reHiragana.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
