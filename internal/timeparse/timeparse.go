package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFormat is returned for thresholds that cannot be parsed. The zero
// duration accompanies it; callers must treat zero as "invalid", never as
// "no cooldown".
var ErrInvalidFormat = errors.New("invalid time threshold format")

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Thresholds stored as bare numbers below one hour expressed in milliseconds
// are assumed to be seconds; larger values are milliseconds. A heuristic, not
// a guaranteed-correct conversion: the legacy data does not self-describe.
const legacyMillisCutoff = 3_600_000

// Timestamps past this are not plausible epoch seconds and get treated as
// milliseconds.
const millisEpochFloor = int64(100_000_000_000)

var (
	segmentToken = regexp.MustCompile(`(\d+)\s*([a-zA-Z]+)`)
	firstInteger = regexp.MustCompile(`\d+`)
)

// Parse converts a human threshold string to a duration. It accepts an
// integer followed by a unit (s, m, h, d, w, or the spelled-out word,
// case-insensitive, optional whitespace), including combined segments such as
// "2d 3h". If that fails it falls back to the first embedded integer with
// days as the implied unit, the documented legacy behavior.
func Parse(input string) (time.Duration, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidFormat
	}
	if d, ok := parseSegments(trimmed); ok {
		if d <= 0 {
			return 0, ErrInvalidFormat
		}
		return d, nil
	}
	raw := firstInteger.FindString(trimmed)
	if raw == "" {
		return 0, ErrInvalidFormat
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidFormat
	}
	return time.Duration(n) * Day, nil
}

func parseSegments(s string) (time.Duration, bool) {
	matches := segmentToken.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var total time.Duration
	last := 0
	for _, loc := range matches {
		if strings.TrimSpace(s[last:loc[0]]) != "" {
			return 0, false
		}
		n, err := strconv.ParseInt(s[loc[2]:loc[3]], 10, 64)
		if err != nil {
			return 0, false
		}
		unit, ok := unitDuration(s[loc[4]:loc[5]])
		if !ok {
			return 0, false
		}
		total += time.Duration(n) * unit
		last = loc[1]
	}
	if strings.TrimSpace(s[last:]) != "" {
		return 0, false
	}
	return total, true
}

func unitDuration(word string) (time.Duration, bool) {
	switch strings.ToLower(word) {
	case "s", "sec", "secs", "second", "seconds":
		return time.Second, true
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "d", "day", "days":
		return Day, true
	case "w", "week", "weeks":
		return Week, true
	}
	return 0, false
}

type unit struct {
	d        time.Duration
	singular string
	compact  string
}

var units = []unit{
	{Week, "week", "w"},
	{Day, "day", "d"},
	{time.Hour, "hour", "h"},
	{time.Minute, "minute", "m"},
	{time.Second, "second", "s"},
}

// Format renders a duration at the coarsest accurate unit ("3 days" rather
// than "4320 minutes"), falling back to compact combined segments ("2d 3h")
// when no single unit divides it evenly. All output round-trips through Parse.
func Format(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}
	for _, u := range units {
		if d < u.d {
			continue
		}
		if d%u.d == 0 {
			return pluralize(int64(d/u.d), u.singular)
		}
		break
	}
	parts := make([]string, 0, 3)
	rem := d
	for _, u := range units {
		if rem < u.d {
			continue
		}
		n := rem / u.d
		parts = append(parts, fmt.Sprintf("%d%s", int64(n), u.compact))
		rem -= n * u.d
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, " ")
}

func pluralize(n int64, singular string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}

// NormalizeLegacy converts a bare numeric threshold from historical records
// to a duration, guessing the unit per the cutoff heuristic.
func NormalizeLegacy(raw float64) time.Duration {
	if raw <= 0 {
		return 0
	}
	if raw < legacyMillisCutoff {
		return time.Duration(raw * float64(time.Second))
	}
	return time.Duration(raw * float64(time.Millisecond))
}

// ParseThreshold resolves a stored threshold value which may be a formatted
// string ("24h") or a legacy bare number in seconds or milliseconds.
func ParseThreshold(stored string) (time.Duration, error) {
	trimmed := strings.TrimSpace(stored)
	if trimmed == "" {
		return 0, ErrInvalidFormat
	}
	if raw, err := strconv.ParseFloat(trimmed, 64); err == nil {
		d := NormalizeLegacy(raw)
		if d <= 0 {
			return 0, ErrInvalidFormat
		}
		return d, nil
	}
	return Parse(trimmed)
}

// NormalizeEpochSeconds coerces a stored timestamp to epoch seconds. Legacy
// records wrote milliseconds.
func NormalizeEpochSeconds(ts int64) int64 {
	if ts > millisEpochFloor {
		return ts / 1000
	}
	return ts
}

// Choices returns the durations offered by value pickers. Their formatted
// labels are guaranteed to round-trip through Parse.
func Choices() []time.Duration {
	return []time.Duration{
		time.Hour,
		2 * time.Hour,
		4 * time.Hour,
		6 * time.Hour,
		12 * time.Hour,
		Day,
		2 * Day,
		3 * Day,
		Week,
		2 * Week,
	}
}
