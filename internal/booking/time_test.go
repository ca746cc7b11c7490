// SPDX-License-Identifier: MIT

package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLessonTimeLayouts(t *testing.T) {
	ref := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-15T18:30:00Z", time.Date(2026, time.March, 15, 18, 30, 0, 0, time.UTC)},
		{"2026-03-15 18:30", time.Date(2026, time.March, 15, 18, 30, 0, 0, time.UTC)},
		{"15.03.2026 18:30", time.Date(2026, time.March, 15, 18, 30, 0, 0, time.UTC)},
		{"15.03 18:30", time.Date(2026, time.March, 15, 18, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseLessonTime(tc.in, ref)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(tc.want), "%s: got %v want %v", tc.in, got, tc.want)
	}
}

func TestParseLessonTimeYearlessRollsToNextYear(t *testing.T) {
	// Reference late in the year: a January date means next January.
	ref := time.Date(2026, time.December, 20, 12, 0, 0, 0, time.UTC)

	got, err := ParseLessonTime("05.01 10:00", ref)
	require.NoError(t, err)
	assert.Equal(t, 2027, got.Year())
}

func TestParseLessonTimeRejectsGarbage(t *testing.T) {
	ref := time.Now()
	for _, in := range []string{"", "  ", "tomorrow", "32.13.2026 99:99"} {
		_, err := ParseLessonTime(in, ref)
		assert.Error(t, err, "input %q", in)
	}
}
