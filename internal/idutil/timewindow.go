package idutil

import "time"

// Window is a UTC [Start, End) half-open interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// DayBoundaries returns the UTC window spanning local midnight-to-midnight
// of the calendar day containing ts, in tz. Because the window is computed
// from local wall-clock boundaries and converted to UTC, it may span 23, 24,
// or 25 hours across a DST transition (spec §4.2, S4).
func DayBoundaries(ts time.Time, tz *time.Location) Window {
	local := ts.In(tz)
	startLocal := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
	endLocal := startLocal.AddDate(0, 0, 1)
	return Window{Start: startLocal.UTC(), End: endLocal.UTC()}
}

// WeekStartDay names the day a week is considered to begin on.
type WeekStartDay = time.Weekday

// WeekBoundaries returns the UTC window for the local calendar week
// containing ts, where weeks begin on startDay (e.g. time.Monday or
// time.Sunday).
func WeekBoundaries(ts time.Time, tz *time.Location, startDay WeekStartDay) Window {
	local := ts.In(tz)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
	delta := int(dayStart.Weekday() - startDay)
	if delta < 0 {
		delta += 7
	}
	weekStartLocal := dayStart.AddDate(0, 0, -delta)
	weekEndLocal := weekStartLocal.AddDate(0, 0, 7)
	return Window{Start: weekStartLocal.UTC(), End: weekEndLocal.UTC()}
}

// MonthBoundaries returns the UTC window for the local calendar month
// containing ts.
func MonthBoundaries(ts time.Time, tz *time.Location) Window {
	local := ts.In(tz)
	startLocal := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, tz)
	endLocal := startLocal.AddDate(0, 1, 0)
	return Window{Start: startLocal.UTC(), End: endLocal.UTC()}
}

// NowUTC returns the current instant truncated to millisecond precision,
// matching the ISO-8601 discipline entities and envelopes are serialized
// under (spec §3, §4.11). Other packages read the clock through time.Now
// directly; callers that must be deterministic (reducers, tests) do not
// call it.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FormatUTC renders ts as ISO-8601 UTC with an explicit numeric offset,
// satisfying the UTC-discipline invariant (spec §8 invariant 4): the string
// always ends in "+00:00".
func FormatUTC(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000+00:00")
}

// ParseUTC parses an ISO-8601 timestamp accepting either a "Z" or numeric
// offset suffix, returning the instant in UTC.
func ParseUTC(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000Z07:00",
		time.RFC3339Nano,
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: "ISO-8601", Value: s}
}
