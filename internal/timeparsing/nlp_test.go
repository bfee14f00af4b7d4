package timeparsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNaturalLanguage(t *testing.T) {
	// Wednesday 2026-10-14, 10:00.
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.Local)

	tests := []struct {
		input string
		date  string
		hour  int // -1 skips the hour check
	}{
		{"tomorrow", "2026-10-15", -1},
		{"yesterday", "2026-10-13", -1},
		{"next monday", "2026-10-19", -1},
		{"next friday", "2026-10-16", -1},
		{"tomorrow at 9am", "2026-10-15", 9},
		{"next monday at 2pm", "2026-10-19", 14},
		{"in 3 days", "2026-10-17", -1},
		{"in 1 week", "2026-10-21", -1},
		{"3 days ago", "2026-10-11", -1},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, now)
			require.NoError(t, err)
			assert.Equal(t, tt.date, got.Format(DateLayout))
			if tt.hour >= 0 {
				assert.Equal(t, tt.hour, got.Hour())
			}
		})
	}

	for _, input := range []string{"", "   ", "not a date at all"} {
		_, err := ParseNaturalLanguage(input, now)
		assert.Error(t, err, "%q", input)
	}
}

func TestParseRelativeTimeLayers(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, cest)

	// Compact durations win over everything else.
	got, err := ParseRelativeTime("+6h", now)
	require.NoError(t, err)
	assert.Equal(t, 16, got.Hour())

	// A bare date is midnight in now's zone, not UTC.
	got, err = ParseRelativeTime("2026-10-20", now)
	require.NoError(t, err)
	assert.Equal(t, cest, got.Location())
	assert.True(t, time.Date(2026, 10, 20, 0, 0, 0, 0, cest).Equal(got), got)

	// RFC3339 keeps its own offset.
	got, err = ParseRelativeTime("2026-10-20T23:30:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 23, got.Hour())

	// Surrounding whitespace from shell quoting is ignored.
	got, err = ParseRelativeTime("  2026-10-20 ", now)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Day())
}

func TestParseRelativeTimeNaturalLanguageFallback(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.Local)
	got, err := ParseRelativeTime("next monday", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", got.Format(DateLayout))
}

func TestParseRelativeTimeErrorSuggestsFormats(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, cest)
	for _, input := range []string{"not-a-date", "not a date at all"} {
		_, err := ParseRelativeTime(input, now)
		require.Error(t, err, input)
		assert.Contains(t, err.Error(), `cannot parse "`+input+`" as a date`)
		assert.Contains(t, err.Error(), `try 2026-01-31, +3d or "next friday"`)
	}
}
