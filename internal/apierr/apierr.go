// Package apierr defines Inkstone's error taxonomy (spec.md §7) as sentinel
// values that component packages wrap with context and the HTTP surface
// maps back to status codes with errors.Is.
package apierr

import "errors"

var (
	// ErrValidation covers empty/oversized/illegal query, malformed path,
	// invalid UUID, invalid sort mode, invalid range, too many keywords,
	// control characters. Maps to 400.
	ErrValidation = errors.New("validation")

	// ErrOversized is the one validation failure that maps to 414 instead
	// of 400: the full URL query string exceeded its length limit.
	ErrOversized = errors.New("oversized")

	// ErrNotReady covers valid-paths not yet loaded, required secrets
	// missing, database not configured when required. Maps to 503.
	ErrNotReady = errors.New("not ready")

	// ErrUnauthorized covers missing/invalid bid cookie on PUT kudos and
	// invalid webhook signatures. Maps to 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound covers a path absent from the valid-path set. Maps to 404.
	ErrNotFound = errors.New("not found")

	// ErrUpstream covers DB errors, index errors, unexpected parse
	// failures. Maps to 500 with a generic message to the client.
	ErrUpstream = errors.New("upstream failure")
)

// Classify returns the first sentinel above that err (or anything it wraps)
// matches, for status-code dispatch; an error matching none of them is
// classified as ErrUpstream.
func Classify(err error) error {
	for _, sentinel := range []error{ErrValidation, ErrOversized, ErrNotReady, ErrUnauthorized, ErrNotFound, ErrUpstream} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return ErrUpstream
}
