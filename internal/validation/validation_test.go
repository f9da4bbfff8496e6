package validation

import (
	"errors"
	"testing"
)

func TestValidateStation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"icao", "KSEA", "KSEA", nil},
		{"lower case trimmed", "  ksea ", "KSEA", nil},
		{"faa three letter", "s50", "S50", nil},
		{"five chars", "CYVR1", "CYVR1", nil},
		{"empty", "", "", ErrStationEmpty},
		{"whitespace", " \t", "", ErrStationEmpty},
		{"too short", "KS", "", ErrStationLength},
		{"too long", "KSEATT", "", ErrStationLength},
		{"punctuation", "KS-A", "", ErrStationInvalidChars},
		{"inner space", "K SA", "", ErrStationInvalidChars},
		{"non ascii", "KSÉ", "", ErrStationInvalidChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateStation(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ValidateStation(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
