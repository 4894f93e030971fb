// Package datetext extracts date/time candidates from free-form poll text.
//
// A poll message lists one candidate per line, each tagged with an emoji
// shortcode:
//
//	:one: 3月1日(金) 10時から
//	:two: ３／２　１９：３０
//	:three: 2025年3月4日 9時半
//
// Each qualifying line is normalized (full-width to half-width, weekday
// decorations and hiragana removed) and then resolved against two ordered
// pattern tables, one for the calendar date and one for the time of day.
// The first matching entry of each table wins. Order is part of the
// contract: callers rely on identical input producing identical output.
package datetext
