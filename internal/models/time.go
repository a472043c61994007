package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator used by model Validate methods.
var validate = validator.New()

// FormatTime serializes a timestamp to the canonical wire form (RFC 3339 UTC).
// Every remote write goes through this; every remote read goes through
// ParseTime. The zero time serializes to the empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses a canonical wire timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// ParseTimeOrZero parses a wire timestamp, accepting the empty string as the
// zero time. Remote documents written by older builds may omit timestamps.
func ParseTimeOrZero(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return ParseTime(s)
}
