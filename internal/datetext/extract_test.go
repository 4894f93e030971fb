package datetext

import (
	"errors"
	"testing"
	"time"
)

func mustTokyo(t *testing.T) *time.Location {
	t.Helper()
	return time.FixedZone("JST", 9*60*60)
}

func TestParseDateTimeVariants(t *testing.T) {
	t.Parallel()
	loc := mustTokyo(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)

	tests := []struct {
		name string
		desc string
		want time.Time
	}{
		{name: "past date rolls to next year", desc: "3月1日 10:00", want: time.Date(2025, 3, 1, 10, 0, 0, 0, loc)},
		{name: "slash date", desc: "6/1 19:30", want: time.Date(2024, 6, 1, 19, 30, 0, 0, loc)},
		{name: "full width", desc: "６／１５（土）１９：３０", want: time.Date(2024, 6, 15, 19, 30, 0, 0, loc)},
		{name: "year slash", desc: "2025/1/5 8:00", want: time.Date(2025, 1, 5, 8, 0, 0, 0, loc)},
		{name: "kanji year", desc: "2025年1月5日 9時", want: time.Date(2025, 1, 5, 9, 0, 0, 0, loc)},
		{name: "explicit past year rolls forward", desc: "2024/3/1 10:00", want: time.Date(2025, 3, 1, 10, 0, 0, 0, loc)},
		{name: "explicit past kanji year rolls forward", desc: "2024年3月1日 10時", want: time.Date(2025, 3, 1, 10, 0, 0, 0, loc)},
		{name: "half hour with hiragana noise", desc: "6月1日 10時半から", want: time.Date(2024, 6, 1, 10, 30, 0, 0, loc)},
		{name: "hour and minute", desc: "6月1日 10時5分", want: time.Date(2024, 6, 1, 10, 5, 0, 0, loc)},
		{name: "weekday suffix", desc: "6月3日月曜日 10時", want: time.Date(2024, 6, 3, 10, 0, 0, 0, loc)},
		{name: "english weekday", desc: "6/3 (Mon) 10:00", want: time.Date(2024, 6, 3, 10, 0, 0, 0, loc)},
		{name: "time only defaults to today", desc: "18:00", want: time.Date(2024, 5, 10, 18, 0, 0, 0, loc)},
		{name: "date only defaults to midnight", desc: "6/1", want: time.Date(2024, 6, 1, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDateTime(tt.desc, now, loc)
			if err != nil {
				t.Fatalf("ParseDateTime(%q) error: %v", tt.desc, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("ParseDateTime(%q) = %s, want %s", tt.desc, got, tt.want)
			}
		})
	}
}

func TestParseDateTimeRejects(t *testing.T) {
	t.Parallel()
	loc := mustTokyo(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)

	for _, desc := range []string{
		"5月32日",
		"4/31 10:00",
		"2/29", // rolls into 2025, which has no Feb 29
		"6/1 25:00",
		"6/1 10:60",
		"だれでも",
		"TBD",
	} {
		desc := desc
		t.Run(desc, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDateTime(desc, now, loc)
			if !errors.Is(err, ErrParseFailure) {
				t.Fatalf("ParseDateTime(%q) err = %v, want ErrParseFailure", desc, err)
			}
		})
	}
}

func TestPatternPrecedenceIsFirstMatch(t *testing.T) {
	t.Parallel()
	loc := mustTokyo(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)

	// Both "6/1" (m/d) and "6月2日" (m月d日) are present; m/d is earlier in
	// the table and must win regardless of position in the text.
	got, err := ParseDateTime("6月2日 と 6/1 10:30 11時", now, loc)
	if err != nil {
		t.Fatalf("ParseDateTime error: %v", err)
	}
	want := time.Date(2024, 6, 1, 10, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestExtractMessage(t *testing.T) {
	t.Parallel()
	loc := mustTokyo(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)

	text := "<@U0BOT> 飲み会の候補日です\n" +
		":1: 5月32日 10時\n" +
		":two: : 6/1 9時半\n" +
		":three:：６月２日（日）１８：００\n" +
		":four:\n" +
		"締切は金曜です"

	res := Extract(text, now, loc)
	if res.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (candidates=%v)", res.Len(), res.Candidates)
	}
	if got, want := res.Candidates["two"].At, time.Date(2024, 6, 1, 9, 30, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("two = %s, want %s", got, want)
	}
	if got, want := res.Candidates["three"].At, time.Date(2024, 6, 2, 18, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("three = %s, want %s", got, want)
	}
	if len(res.Failures) != 1 || res.Failures[0].Line != 2 {
		t.Fatalf("Failures = %+v, want one failure on line 2", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, ErrParseFailure) {
		t.Fatalf("failure err = %v, want ErrParseFailure", res.Failures[0].Err)
	}
	if len(res.Order) != 2 || res.Order[0] != "two" || res.Order[1] != "three" {
		t.Fatalf("Order = %v", res.Order)
	}
}

func TestExtractDigitAliasSharesSlot(t *testing.T) {
	t.Parallel()
	loc := mustTokyo(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)

	res := Extract(":1: 6/1 10:00\n:one: 6/2 10:00", now, loc)
	if res.Len() != 1 {
		t.Fatalf("Len = %d, want 1", res.Len())
	}
	if got, want := res.Candidates["one"].At, time.Date(2024, 6, 2, 10, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("one = %s, want later line %s", got, want)
	}
}

func TestExtractEmptyText(t *testing.T) {
	t.Parallel()
	res := Extract("hello\nno candidates here", time.Now(), time.UTC)
	if res.Len() != 0 || len(res.Failures) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtractIgnoresClockReadings(t *testing.T) {
	t.Parallel()
	loc := mustTokyo(t)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, loc)

	res := Extract("ミーティング 12:30:00\n:one: 6/1 12:30:00 集合\n10:15:20 :two: 6/2 9時", now, loc)
	if len(res.Failures) != 0 {
		t.Fatalf("Failures = %+v, want none", res.Failures)
	}
	if res.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (candidates=%v)", res.Len(), res.Candidates)
	}
	if got, want := res.Candidates["one"].At, time.Date(2024, 6, 1, 12, 30, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("one = %s, want %s", got, want)
	}
	if got, want := res.Candidates["two"].At, time.Date(2024, 6, 2, 9, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("two = %s, want %s", got, want)
	}
}
