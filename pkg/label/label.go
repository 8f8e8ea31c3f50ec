// Package label derives deterministic, filesystem-safe artifact names from
// table contents.
package label

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/table"
)

// ErrNoDates is returned when a date label cannot find any parsable date.
var ErrNoDates = errors.New("no parsable dates")

// DateFormat is the layout of the dates inside a label.
const DateFormat = "2006-01-02"

// timestampLayouts are the forms Socrata uses for floating timestamps.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	DateFormat,
}

// FromDates labels t by the range of dates in column:
// "{prefix}_{min}_to_{max}". Empty cells are ignored; any other cell that
// does not parse is an error.
func FromDates(t *table.Table, column, prefix string) (string, error) {
	values, ok := t.Column(column)
	if !ok {
		return "", fmt.Errorf("column %q: %w", column, ErrNoDates)
	}

	var minDate, maxDate time.Time
	found := false
	for i, v := range values {
		if v == "" {
			continue
		}
		d, err := ParseTimestamp(v)
		if err != nil {
			return "", fmt.Errorf("row %d of column %q: %w", i, column, err)
		}
		if !found || d.Before(minDate) {
			minDate = d
		}
		if !found || d.After(maxDate) {
			maxDate = d
		}
		found = true
	}

	if !found {
		return "", fmt.Errorf("column %q: %w", column, ErrNoDates)
	}

	return Sanitize(fmt.Sprintf("%s_%s_to_%s", prefix, minDate.Format(DateFormat), maxDate.Format(DateFormat))), nil
}

// Geo returns the static label for geographic reference datasets.
func Geo(prefix string) string {
	return Sanitize(prefix + "_Geo")
}

// ParseTimestamp parses a Socrata floating timestamp or calendar date.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Sanitize replaces every character outside [A-Za-z0-9._-] with '_'.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
