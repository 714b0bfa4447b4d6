package models

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrRangeOrder = errors.New("start must precede end")

// TimeRange is the range as the user typed it: "mm:ss", "hh:mm:ss" or plain seconds.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r TimeRange) IsZero() bool {
	return strings.TrimSpace(r.Start) == "" && strings.TrimSpace(r.End) == ""
}

// Seconds converts both bounds and checks start < end.
func (r TimeRange) Seconds() (SliceRange, error) {
	start, err := ParseTimestamp(r.Start)
	if err != nil {
		return SliceRange{}, errors.Wrap(err, "start")
	}
	end, err := ParseTimestamp(r.End)
	if err != nil {
		return SliceRange{}, errors.Wrap(err, "end")
	}
	if start >= end {
		return SliceRange{}, ErrRangeOrder
	}
	return SliceRange{Start: start, End: end}, nil
}

// ParseTimestamp accepts "ss", "mm:ss" and "hh:mm:ss"; fractional seconds are
// allowed in the last component.
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty timestamp")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errors.Errorf("invalid timestamp %q", s)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var v float64
		var err error
		if last {
			v, err = strconv.ParseFloat(p, 64)
		} else {
			var n int
			n, err = strconv.Atoi(p)
			v = float64(n)
		}
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, errors.Errorf("invalid timestamp %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, errors.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// SliceRange is the [Start, End) window in seconds that restricts which
// caption entries or audio are used.
type SliceRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r SliceRange) Contains(t float64) bool {
	return t >= r.Start && t < r.End
}

func (r SliceRange) Duration() float64 {
	return r.End - r.Start
}
