package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"45s", 45 * time.Second},
		{"30m", 30 * time.Minute},
		{"24h", 24 * time.Hour},
		{"3d", 3 * Day},
		{"2w", 2 * Week},
		{" 12 H ", 12 * time.Hour},
		{"1 hour", time.Hour},
		{"2 hours", 2 * time.Hour},
		{"3 days", 3 * Day},
		{"2 weeks", 2 * Week},
		{"2d 3h", 2*Day + 3*time.Hour},
		{"1h 30m", 90 * time.Minute},
	}
	for _, tc := range cases {
		got, err := Parse(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
	}
}

func TestParseLegacyFallbackAssumesDays(t *testing.T) {
	got, err := Parse("7")
	require.NoError(t, err)
	assert.Equal(t, 7*Day, got)

	got, err = Parse("close after 3 please")
	require.NoError(t, err)
	assert.Equal(t, 3*Day, got)
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "0h", "   ", "0"} {
		got, err := Parse(input)
		assert.ErrorIs(t, err, ErrInvalidFormat, "input %q", input)
		assert.Equal(t, time.Duration(0), got, "input %q", input)
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{time.Hour, "1 hour"},
		{2 * time.Hour, "2 hours"},
		{Day, "1 day"},
		{3 * Day, "3 days"},
		{2 * Week, "2 weeks"},
		{90 * time.Minute, "1h 30m"},
		{2*Day + 3*time.Hour, "2d 3h"},
		{0, "0 seconds"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Format(tc.d), "duration %s", tc.d)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, d := range Choices() {
		parsed, err := Parse(Format(d))
		require.NoError(t, err, "label %q", Format(d))
		assert.Equal(t, d, parsed, "label %q", Format(d))
	}
	// parse(format(parse(s))) must equal parse(s)
	for _, s := range []string{"24h", "3d", "2w", "90m", "1h 30m"} {
		first, err := Parse(s)
		require.NoError(t, err)
		second, err := Parse(Format(first))
		require.NoError(t, err)
		assert.Equal(t, first, second, "input %q", s)
	}
}

func TestNormalizeLegacy(t *testing.T) {
	assert.Equal(t, 60*time.Second, NormalizeLegacy(60))
	assert.Equal(t, 30*time.Minute, NormalizeLegacy(1800))
	assert.Equal(t, 24*time.Hour, NormalizeLegacy(86400))
	// at or above the cutoff the value is milliseconds
	assert.Equal(t, time.Hour, NormalizeLegacy(3_600_000))
	assert.Equal(t, 24*time.Hour, NormalizeLegacy(86_400_000))
	assert.Equal(t, time.Duration(0), NormalizeLegacy(0))
	assert.Equal(t, time.Duration(0), NormalizeLegacy(-5))
}

func TestParseThreshold(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"3 days", 3 * Day},
		{"86400", 24 * time.Hour},
		{"86400000", 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseThreshold(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
	}

	_, err := ParseThreshold("")
	assert.ErrorIs(t, err, ErrInvalidFormat)
	_, err = ParseThreshold("0")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNormalizeEpochSeconds(t *testing.T) {
	assert.Equal(t, int64(1_700_000_000), NormalizeEpochSeconds(1_700_000_000))
	assert.Equal(t, int64(1_700_000_000), NormalizeEpochSeconds(1_700_000_000_000))
	assert.Equal(t, int64(0), NormalizeEpochSeconds(0))
}
