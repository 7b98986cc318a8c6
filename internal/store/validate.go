package store

import (
	"regexp"

	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// identifierPattern is the allow-list every identifier used in a storage
// lookup must satisfy: letters, digits, underscore, dot, hyphen.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidateIdentifier rejects empty or malformed identifiers before they
// reach a query. Validation failure is a programmer error: callers should
// treat it as a ValidationError, never a retriable condition.
func ValidateIdentifier(field, value string) error {
	if value == "" {
		return apperr.Validation("%s must not be empty", field)
	}
	if !identifierPattern.MatchString(value) {
		return apperr.Validation("%s %q is not a valid identifier", field, value)
	}
	return nil
}

// MaxPayloadBytes is the 64 KiB bound on journal input/output and awakeable
// payload.
const MaxPayloadBytes = 64 * 1024

// ValidatePayload enforces the payload size bound.
func ValidatePayload(field string, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		return apperr.Validation("%s exceeds %d byte limit", field, MaxPayloadBytes)
	}
	return nil
}
