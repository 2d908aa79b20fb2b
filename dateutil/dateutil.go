// Package dateutil parses the loose dates accepted on the command line.
package dateutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/jinzhu/now"
)

// Parse parses a date in any format dateparse understands, in local time.
func Parse(value string) (time.Time, error) {
	return dateparse.ParseLocal(value)
}

// ParseSince turns a loose date into the beginning of that day. Besides
// absolute dates it accepts "today", "yesterday" and relative days like
// "7d", all relative to ref.
func ParseSince(value string, ref time.Time) (time.Time, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case v == "":
		return time.Time{}, nil
	case v == "today":
		return now.With(ref).BeginningOfDay(), nil
	case v == "yesterday":
		return now.With(ref.AddDate(0, 0, -1)).BeginningOfDay(), nil
	case strings.HasSuffix(v, "d"):
		if n, err := strconv.Atoi(strings.TrimSuffix(v, "d")); err == nil && n >= 0 {
			return now.With(ref.AddDate(0, 0, -n)).BeginningOfDay(), nil
		}
	}
	t, err := Parse(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("dateutil: cannot parse %q: %w", value, err)
	}
	return now.With(t).BeginningOfDay(), nil
}
