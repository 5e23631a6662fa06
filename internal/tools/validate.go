// ABOUTME: Input validation for tool parameters with per-field size caps
// ABOUTME: Produces ValidationError values surfaced to callers as JSON-RPC errors

package tools

import (
	"fmt"
	"unicode/utf8"
)

// Size limits for tool inputs.
const (
	MaxIDLen          = 100
	MaxNameLen        = 200
	MaxDescriptionLen = 5000
	MaxTypeLen        = 50
	MaxTagLen         = 50
	MaxTags           = 20
	MaxCapabilities   = 20
)

// ValidationError reports a rejected tool input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// requireID checks a required identifier parameter.
func requireID(field, value string) error {
	if value == "" {
		return invalid(field, "required")
	}
	return limitLen(field, value, MaxIDLen)
}

// limitLen rejects values longer than max characters.
func limitLen(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return invalid(field, "exceeds %d characters", max)
	}
	return nil
}

// limitList rejects lists with too many or oversized elements.
func limitList(field string, values []string, maxItems, maxItemLen int) error {
	if len(values) > maxItems {
		return invalid(field, "exceeds %d elements", maxItems)
	}
	for _, v := range values {
		if err := limitLen(field, v, maxItemLen); err != nil {
			return err
		}
	}
	return nil
}
