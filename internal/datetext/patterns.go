package datetext

import (
	"regexp"
	"strconv"
)

// dateFields is what a date pattern contributes. Year is 0 when the text did
// not carry one.
type dateFields struct {
	year, month, day int
}

// clockFields is what a time pattern contributes.
type clockFields struct {
	hour, minute int
}

type datePattern struct {
	name    string
	re      *regexp.Regexp
	extract func(m []string) dateFields
}

type timePattern struct {
	name    string
	re      *regexp.Regexp
	extract func(m []string) clockFields
}

// datePatterns is evaluated top to bottom and the first match wins.
//
// Numeric entries are boundary-anchored so that "2025/3/1" is not read as
// "25/3", and "2025年3月1日" is not read as "3月1日", which keeps every row
// reachable without reordering the table.
var datePatterns = []datePattern{
	{
		name: "m/d",
		re:   regexp.MustCompile(`(?:^|[^\d/])(\d{1,2})/(\d{1,2})(?:$|[^\d/])`),
		extract: func(m []string) dateFields {
			return dateFields{month: atoi(m[1]), day: atoi(m[2])}
		},
	},
	{
		name: "y/m/d",
		re:   regexp.MustCompile(`(?:^|[^\d/])(\d{4})/(\d{1,2})/(\d{1,2})(?:$|[^\d/])`),
		extract: func(m []string) dateFields {
			return dateFields{year: atoi(m[1]), month: atoi(m[2]), day: atoi(m[3])}
		},
	},
	{
		name: "m月d日",
		re:   regexp.MustCompile(`(?:^|[^\d年])(\d{1,2})月(\d{1,2})日`),
		extract: func(m []string) dateFields {
			return dateFields{month: atoi(m[1]), day: atoi(m[2])}
		},
	},
	{
		name: "y年m月d日",
		re:   regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`),
		extract: func(m []string) dateFields {
			return dateFields{year: atoi(m[1]), month: atoi(m[2]), day: atoi(m[3])}
		},
	},
}

// timePatterns is evaluated top to bottom and the first match wins.
var timePatterns = []timePattern{
	{
		name: "h:mm",
		re:   regexp.MustCompile(`(?:^|\D)(\d{1,2}):(\d{2})(?:$|\D)`),
		extract: func(m []string) clockFields {
			return clockFields{hour: atoi(m[1]), minute: atoi(m[2])}
		},
	},
	{
		name: "h時m分",
		re:   regexp.MustCompile(`(\d{1,2})時(\d{1,2})分`),
		extract: func(m []string) clockFields {
			return clockFields{hour: atoi(m[1]), minute: atoi(m[2])}
		},
	},
	{
		name: "h時半",
		re:   regexp.MustCompile(`(\d{1,2})時半`),
		extract: func(m []string) clockFields {
			return clockFields{hour: atoi(m[1]), minute: 30}
		},
	},
	{
		name: "h時",
		re:   regexp.MustCompile(`(\d{1,2})時`),
		extract: func(m []string) clockFields {
			return clockFields{hour: atoi(m[1])}
		},
	},
}

func matchDate(s string) (dateFields, string, bool) {
	for _, p := range datePatterns {
		if m := p.re.FindStringSubmatch(s); m != nil {
			return p.extract(m), p.name, true
		}
	}
	return dateFields{}, "", false
}

func matchTime(s string) (clockFields, string, bool) {
	for _, p := range timePatterns {
		if m := p.re.FindStringSubmatch(s); m != nil {
			return p.extract(m), p.name, true
		}
	}
	return clockFields{}, "", false
}

// atoi is only called on regexp groups made of ASCII digits.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
