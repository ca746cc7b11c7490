// SPDX-License-Identifier: MIT

package booking

import (
	"fmt"
	"strings"
	"time"
)

// lessonTimeLayouts is the ordered list of accepted textual forms for a
// scheduled lesson time. Admins type the short forms; imports carry
// RFC 3339. Order matters: the first successful parse wins.
var lessonTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"02.01.2006 15:04",
	"02.01 15:04",
}

// ParseLessonTime parses a scheduled-time value against each tolerated
// layout in order. Layouts without a year borrow the year from ref,
// rolling into the next year when the date has already passed.
func ParseLessonTime(value string, ref time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty lesson time")
	}

	for _, layout := range lessonTimeLayouts {
		t, err := time.ParseInLocation(layout, value, ref.Location())
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = t.AddDate(ref.Year(), 0, 0)
			if t.Before(ref.AddDate(0, 0, -1)) {
				t = t.AddDate(1, 0, 0)
			}
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparsable lesson time %q", value)
}
