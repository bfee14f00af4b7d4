package timeparsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, cest)

	tests := []struct {
		input string
		want  string
	}{
		{"2026-11-02", "2026-11-02"},
		{"+1w", "2026-10-21"},
		{"-1d", "2026-10-13"},
		{"2m", "2026-12-14"},
		// Converted to now's zone before formatting.
		{"2026-10-20T23:30:00Z", "2026-10-21"},
		{"2026-10-20T23:30:00+02:00", "2026-10-20"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDateClearWords(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, cest)
	for _, input := range []string{"", "  ", "none", "NONE", "clear", " Clear "} {
		got, err := ParseDate(input, now)
		require.NoError(t, err, "%q", input)
		assert.Empty(t, got, "%q", input)
	}
}

func TestParseDateNaturalLanguage(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.Local)
	got, err := ParseDate("tomorrow", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", got)
}

func TestParseDateError(t *testing.T) {
	_, err := ParseDate("not-a-date", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "as a date")
}
