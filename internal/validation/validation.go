package validation

import (
	"errors"
	"strings"
)

// ErrStationEmpty is returned when the identifier is empty or whitespace-only after trim.
var ErrStationEmpty = errors.New("station identifier is required")

// ErrStationLength is returned when the identifier is not 3 to 5 characters.
var ErrStationLength = errors.New("station identifier must be 3 to 5 characters")

// ErrStationInvalidChars is returned when the identifier contains anything but ASCII letters and digits.
var ErrStationInvalidChars = errors.New("station identifier contains invalid characters")

const (
	minStationLen = 3
	maxStationLen = 5
)

// ValidateStation trims and upper-cases a station identifier (ICAO "KSEA",
// FAA "S50") and checks it is 3 to 5 ASCII letters or digits. Returns the
// normalized identifier.
func ValidateStation(input string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(input))
	if s == "" {
		return "", ErrStationEmpty
	}
	if len(s) < minStationLen || len(s) > maxStationLen {
		return "", ErrStationLength
	}
	for _, c := range s {
		if !isStationRune(c) {
			return "", ErrStationInvalidChars
		}
	}
	return s, nil
}

func isStationRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
