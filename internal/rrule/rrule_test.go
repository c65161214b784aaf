package rrule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/raido/internal/dates"
)

func window(t *testing.T, start, end string) dates.Window {
	t.Helper()
	w, err := dates.ParseWindow(start, end)
	require.NoError(t, err)
	return w
}

func strs(ds []dates.Date) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func expand(t *testing.T, rule, anchor, start, end string) []string {
	t.Helper()
	exp := Expand(rule, dates.MustParse(anchor), Options{Window: window(t, start, end)})
	require.Equal(t, Expanded, exp.Status, "rule %q: %v", rule, exp.Err)
	return strs(exp.Dates)
}

func TestExpand_Table(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		anchor string
		start  string
		end    string
		want   []string
	}{
		{
			name: "daily", rule: "FREQ=DAILY", anchor: "2025-01-09",
			start: "2025-01-09", end: "2025-01-13",
			want: []string{"2025-01-09", "2025-01-10", "2025-01-11", "2025-01-12", "2025-01-13"},
		},
		{
			name: "daily interval aligned to anchor", rule: "FREQ=DAILY;INTERVAL=2", anchor: "2025-01-01",
			start: "2025-01-04", end: "2025-01-10",
			want: []string{"2025-01-05", "2025-01-07", "2025-01-09"},
		},
		{
			name: "weekly by day", rule: "FREQ=WEEKLY;BYDAY=MO,WE,FR", anchor: "2025-01-06",
			start: "2025-01-01", end: "2025-01-12",
			want: []string{"2025-01-06", "2025-01-08", "2025-01-10"},
		},
		{
			name: "biweekly defaults to anchor weekday", rule: "FREQ=WEEKLY;INTERVAL=2", anchor: "2025-01-08",
			start: "2025-01-01", end: "2025-02-05",
			want: []string{"2025-01-08", "2025-01-22", "2025-02-05"},
		},
		{
			name: "last weekday of month via BYSETPOS", rule: "FREQ=MONTHLY;BYDAY=MO,TU,WE,TH,FR;BYSETPOS=-1", anchor: "2025-01-01",
			start: "2025-01-01", end: "2025-05-31",
			want: []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30", "2025-05-30"},
		},
		{
			name: "count includes occurrences before the window", rule: "FREQ=DAILY;COUNT=3", anchor: "2025-01-01",
			start: "2025-01-02", end: "2025-01-31",
			want: []string{"2025-01-02", "2025-01-03"},
		},
		{
			name: "until is inclusive", rule: "FREQ=WEEKLY;UNTIL=20250120", anchor: "2025-01-06",
			start: "2025-01-01", end: "2025-03-01",
			want: []string{"2025-01-06", "2025-01-13", "2025-01-20"},
		},
		{
			name: "monthly on the 31st skips short months", rule: "FREQ=MONTHLY", anchor: "2025-01-31",
			start: "2025-01-01", end: "2025-05-31",
			want: []string{"2025-01-31", "2025-03-31", "2025-05-31"},
		},
		{
			name: "last day of month", rule: "FREQ=MONTHLY;BYMONTHDAY=-1", anchor: "2025-01-01",
			start: "2025-01-01", end: "2025-03-31",
			want: []string{"2025-01-31", "2025-02-28", "2025-03-31"},
		},
		{
			name: "fourth thursday of november", rule: "FREQ=YEARLY;BYMONTH=11;BYDAY=4TH", anchor: "2024-01-01",
			start: "2024-01-01", end: "2026-12-31",
			want: []string{"2024-11-28", "2025-11-27", "2026-11-26"},
		},
		{
			name: "wkst monday", rule: "DTSTART:19970902;FREQ=WEEKLY;INTERVAL=2;COUNT=8;WKST=MO;BYDAY=TU,SU", anchor: "1997-09-02",
			start: "1997-01-01", end: "1997-12-31",
			want: []string{"1997-09-02", "1997-09-07", "1997-09-16", "1997-09-21", "1997-09-30", "1997-10-05", "1997-10-14", "1997-10-19"},
		},
		{
			name: "wkst sunday", rule: "DTSTART:19970902;FREQ=WEEKLY;INTERVAL=2;COUNT=8;WKST=SU;BYDAY=TU,SU", anchor: "1997-09-02",
			start: "1997-01-01", end: "1997-12-31",
			want: []string{"1997-09-02", "1997-09-14", "1997-09-16", "1997-09-28", "1997-09-30", "1997-10-12", "1997-10-14", "1997-10-26"},
		},
		{
			name: "no match inside the window", rule: "FREQ=YEARLY;BYMONTH=2;BYMONTHDAY=30", anchor: "2025-01-01",
			start: "2025-01-01", end: "2030-12-31",
			want: []string{},
		},
		{
			name: "daily leap day across a long gap", rule: "FREQ=DAILY;BYMONTH=2;BYMONTHDAY=29", anchor: "2024-03-01",
			start: "2024-03-01", end: "2030-12-31",
			want: []string{"2028-02-29"},
		},
		{
			name: "leap day skipped by a century year", rule: "FREQ=DAILY;BYMONTH=2;BYMONTHDAY=29", anchor: "2096-03-01",
			start: "2096-03-01", end: "2104-12-31",
			want: []string{"2104-02-29"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expand(t, tt.rule, tt.anchor, tt.start, tt.end))
		})
	}
}

func TestExpand_SecondMondayOfMonth(t *testing.T) {
	exp := Expand("FREQ=MONTHLY;BYDAY=2MO", dates.MustParse("2025-01-01"), Options{Window: window(t, "2025-01-01", "2025-12-31")})
	require.Equal(t, Expanded, exp.Status)
	require.Len(t, exp.Dates, 12)
	for _, d := range exp.Dates {
		assert.Equal(t, time.Monday, d.Weekday(), d.String())
		assert.True(t, d.Day() >= 8 && d.Day() <= 14, "%s is not the second Monday", d)
	}
}

func TestExpand_LastFridayOfMonth(t *testing.T) {
	exp := Expand("FREQ=MONTHLY;BYDAY=-1FR", dates.MustParse("2025-01-01"), Options{Window: window(t, "2025-01-01", "2025-12-31")})
	require.Equal(t, Expanded, exp.Status)
	require.Len(t, exp.Dates, 12)
	for _, d := range exp.Dates {
		assert.Equal(t, time.Friday, d.Weekday(), d.String())
		assert.Greater(t, d.Day()+7, dates.DaysInMonth(d.Year(), d.Month()), "%s is not the last Friday", d)
	}
}

func TestExpand_MonotonicAndInsideWindow(t *testing.T) {
	rules := []string{
		"FREQ=DAILY;INTERVAL=3",
		"FREQ=WEEKLY;BYDAY=SU,MO,SA",
		"FREQ=MONTHLY;BYMONTHDAY=1,15,-1",
		"FREQ=MONTHLY;BYDAY=MO,FR;BYSETPOS=1,2,-1,-2",
		"FREQ=YEARLY;BYDAY=20MO",
		"FREQ=YEARLY;BYMONTH=1,7;BYDAY=-1SU",
	}
	w := window(t, "2024-02-10", "2026-06-30")
	for _, rule := range rules {
		exp := Expand(rule, dates.MustParse("2023-12-30"), Options{Window: w, MaxInstances: -1})
		require.Equal(t, Expanded, exp.Status, rule)
		require.NotEmpty(t, exp.Dates, rule)
		for i, d := range exp.Dates {
			assert.True(t, w.Contains(d), "%s: %s outside window", rule, d)
			if i > 0 {
				assert.True(t, exp.Dates[i-1].Before(d), "%s: %s not after %s", rule, d, exp.Dates[i-1])
			}
		}
	}
}

func TestExpand_MaxInstances(t *testing.T) {
	exp := Expand("FREQ=DAILY", dates.MustParse("2025-01-01"), Options{Window: window(t, "2025-01-01", "2025-12-31"), MaxInstances: 5})
	require.Equal(t, Expanded, exp.Status)
	assert.Len(t, exp.Dates, 5)

	exp = Expand("FREQ=DAILY", dates.MustParse("2020-01-01"), Options{Window: window(t, "2020-01-01", "2029-12-31")})
	assert.Len(t, exp.Dates, DefaultMaxInstances)
}

func TestExpand_Unsupported(t *testing.T) {
	rules := []string{
		"FREQ=HOURLY",
		"FREQ=DAILY;BYHOUR=9",
		"FREQ=YEARLY;BYWEEKNO=20",
		"FREQ=WEEKLY;BYDAY=2MO",
		"FREQ=MONTHLY;BYDAY=2MO;BYSETPOS=1",
		"FREQ=DAILY;X-NAME=1",
	}
	for _, rule := range rules {
		exp := Expand(rule, dates.MustParse("2025-01-01"), Options{Window: window(t, "2025-01-01", "2025-12-31")})
		assert.Equal(t, Unsupported, exp.Status, rule)
		assert.ErrorIs(t, exp.Err, ErrUnsupported, rule)
		assert.Nil(t, exp.Dates, rule)
	}
}

func TestExpand_Failed(t *testing.T) {
	rules := []string{"", "INTERVAL=2", "FREQ=DAILY;INTERVAL=x", "FREQ=DAILY;INTERVAL=0", "FREQ=MONTHLY;BYMONTHDAY=32", "FREQ=SOMETIMES"}
	for _, rule := range rules {
		exp := Expand(rule, dates.MustParse("2025-01-01"), Options{Window: window(t, "2025-01-01", "2025-12-31")})
		assert.Equal(t, Failed, exp.Status, rule)
		assert.ErrorIs(t, exp.Err, ErrInvalidRule, rule)
	}
}

func TestOccurrences_Restartable(t *testing.T) {
	r, err := Parse("FREQ=WEEKLY;BYDAY=TU,TH")
	require.NoError(t, err)
	seq, err := Occurrences(r, dates.MustParse("2025-01-01"), Options{Window: window(t, "2025-01-01", "2025-02-01")})
	require.NoError(t, err)

	var first, second []string
	for d, err := range seq {
		require.NoError(t, err)
		first = append(first, d.String())
	}
	for d, err := range seq {
		require.NoError(t, err)
		second = append(second, d.String())
	}
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestExpand_NoFurtherOccurrences(t *testing.T) {
	exp := Expand("FREQ=YEARLY;BYMONTH=2;BYMONTHDAY=30", dates.MustParse("2025-01-01"),
		Options{Window: window(t, "2025-01-01", "2600-12-31")})
	assert.Equal(t, Failed, exp.Status)
	assert.ErrorIs(t, exp.Err, ErrNoOccurrences)
	assert.Empty(t, exp.Dates)

	// A daily rule that matches once per leap year never trips the guard.
	exp = Expand("FREQ=DAILY;BYMONTH=2;BYMONTHDAY=29", dates.MustParse("2024-03-01"),
		Options{Window: window(t, "2024-03-01", "2999-12-31"), MaxInstances: -1})
	require.Equal(t, Expanded, exp.Status, "%v", exp.Err)
	assert.Equal(t, "2028-02-29", exp.Dates[0].String())
}

func TestOccurrences_RequiresAnchor(t *testing.T) {
	r, err := Parse("FREQ=DAILY")
	require.NoError(t, err)
	_, err = Occurrences(r, dates.Date{}, Options{Window: window(t, "2025-01-01", "2025-02-01")})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestParse_AnchorForms(t *testing.T) {
	for _, text := range []string{
		"DTSTART:20250109;FREQ=DAILY",
		"DTSTART:20250109T090000Z\nRRULE:FREQ=DAILY",
		"DTSTART;VALUE=DATE:20250109\nRRULE:FREQ=DAILY",
		"DTSTART;TZID=Europe/Berlin:20250109T233000;FREQ=DAILY",
	} {
		r, err := Parse(text)
		require.NoError(t, err, text)
		assert.Equal(t, "2025-01-09", r.Anchor.String(), text)
		assert.Equal(t, Daily, r.Freq, text)
	}
}

func TestParse_StringRoundTrip(t *testing.T) {
	r, err := Parse("rrule:freq=monthly;interval=2;byday=-1fr,+2mo;count=6;wkst=su;dtstart:20250101")
	require.NoError(t, err)
	assert.Equal(t, "DTSTART:20250101;FREQ=MONTHLY;INTERVAL=2;BYDAY=-1FR,2MO;COUNT=6;WKST=SU", r.String())

	again, err := Parse(r.String())
	require.NoError(t, err)
	assert.Equal(t, r, again)
}

func TestWithAnchor_DoesNotMutate(t *testing.T) {
	r, err := Parse("FREQ=WEEKLY;BYDAY=MO")
	require.NoError(t, err)
	moved := r.WithAnchor(dates.MustParse("2025-03-03"))
	assert.True(t, r.Anchor.IsZero())
	assert.Equal(t, "DTSTART:20250303;FREQ=WEEKLY;BYDAY=MO", moved.String())
	moved.ByDay[0].Weekday = time.Friday
	assert.Equal(t, time.Monday, r.ByDay[0].Weekday)
}

func TestNext(t *testing.T) {
	r, err := Parse("FREQ=DAILY")
	require.NoError(t, err)
	d, ok, err := Next(r, dates.MustParse("2025-01-01"), dates.MustParse("2025-01-10"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-01-11", d.String())

	r, err = Parse("FREQ=DAILY;COUNT=2")
	require.NoError(t, err)
	_, ok, err = Next(r, dates.MustParse("2025-01-01"), dates.MustParse("2025-01-10"))
	require.NoError(t, err)
	assert.False(t, ok)
}
