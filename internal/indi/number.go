package indi

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNumber parses the text of a oneNumber/defNumber element.
//
// Plain decimal text is accepted, as is the sexagesimal form drivers use for
// coordinates ("-12:30:45.5", "5 30", "5;30"), with up to three components.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("indi: empty number")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ';' || r == ' '
	})
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("indi: invalid number %q", s)
	}

	negative := strings.HasPrefix(parts[0], "-")
	var total float64
	scale := 1.0
	for i, p := range parts {
		if i == 0 {
			p = strings.TrimPrefix(p, "-")
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("indi: invalid number %q", s)
		}
		total += v / scale
		scale *= 60
	}
	if negative {
		total = -total
	}
	return total, nil
}
