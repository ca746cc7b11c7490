// SPDX-License-Identifier: MIT

package dialog

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	minNameLen = 2
	maxNameLen = 32

	minAge = 5
	maxAge = 99

	minReasonLen = 2
	maxReasonLen = 200
)

var handlePattern = regexp.MustCompile(`^@[A-Za-z0-9_]{5,32}$`)

// validateName accepts 2-32 characters of letters, hyphens and spaces.
func validateName(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) < minNameLen || len(runes) > maxNameLen {
		return "", &ValidationError{Field: field, Reason: "must be 2-32 characters"}
	}
	for _, r := range runes {
		if !unicode.IsLetter(r) && r != '-' && r != ' ' {
			return "", &ValidationError{Field: field, Reason: "only letters, hyphens and spaces are allowed"}
		}
	}
	return value, nil
}

// validateAge accepts an integer between 5 and 99.
func validateAge(value string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return "", &ValidationError{Field: "age", Reason: "must be a number"}
	}
	if n < minAge || n > maxAge {
		return "", &ValidationError{Field: "age", Reason: "must be between 5 and 99"}
	}
	return strconv.Itoa(n), nil
}

// validateContact accepts a phone number, normalized to +<country><digits>,
// or a chat handle of the form @name.
func validateContact(value string) (string, error) {
	value = strings.TrimSpace(value)
	if handlePattern.MatchString(value) {
		return value, nil
	}

	digits := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
			// separators and the leading plus are dropped
		default:
			return "", &ValidationError{Field: "contact", Reason: "enter a phone number or an @handle"}
		}
	}

	num := digits.String()
	// Domestic form with a leading 8 is normalized to +7.
	if len(num) == 11 && num[0] == '8' {
		num = "7" + num[1:]
	}
	if len(num) < 10 || len(num) > 15 {
		return "", &ValidationError{Field: "contact", Reason: "phone number must have 10-15 digits"}
	}
	return "+" + num, nil
}

// validateCourse matches the input against the active course list,
// case-insensitively. A mismatch re-presents the list as choices instead
// of failing outright.
func validateCourse(value string, courses []string) (string, error) {
	want := strings.ToLower(strings.TrimSpace(value))
	for _, c := range courses {
		if strings.ToLower(c) == want {
			return c, nil
		}
	}
	return "", &ValidationError{
		Field:   "course",
		Reason:  "pick one of the available courses",
		Options: append([]string(nil), courses...),
	}
}

// validateReason accepts free text between 2 and 200 characters.
func validateReason(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) < minReasonLen || len(runes) > maxReasonLen {
		return "", &ValidationError{Field: field, Reason: "must be 2-200 characters"}
	}
	return value, nil
}

// validateRating accepts an integer between 1 and 5.
func validateRating(value string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 || n > 5 {
		return "", &ValidationError{Field: "rating", Reason: "must be a number from 1 to 5"}
	}
	return strconv.Itoa(n), nil
}

// normalizeChoice canonicalizes an enumerated-choice input.
func normalizeChoice(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// affirmative reports whether the input confirms the dialog.
func affirmative(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "да", "confirm", "ok", "👍":
		return true
	}
	return false
}

// negative reports whether the input declines the dialog.
func negative(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "no", "n", "нет", "cancel", "abort":
		return true
	}
	return false
}
