package client

import (
	"encoding/json"
	"strconv"
	"strings"
)

// visibility decodes the upstream visib field, which arrives as a number
// or as a string such as "10+", "1/2" or "1 1/2".
type visibility struct {
	miles *float64
}

func (v *visibility) UnmarshalJSON(data []byte) error {
	v.miles = nil
	if string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		v.miles = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if m, ok := parseVisibility(s); ok {
		v.miles = &m
	}
	return nil
}

func parseVisibility(s string) (float64, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "SM")
	s = strings.TrimSuffix(s, "+")
	s = strings.TrimPrefix(s, "P")
	s = strings.TrimPrefix(s, "M")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	var total float64
	for _, part := range strings.Fields(s) {
		if num, den, ok := strings.Cut(part, "/"); ok {
			n, err1 := strconv.ParseFloat(num, 64)
			d, err2 := strconv.ParseFloat(den, 64)
			if err1 != nil || err2 != nil || d == 0 {
				return 0, false
			}
			total += n / d
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, false
		}
		total += f
	}
	return total, true
}
