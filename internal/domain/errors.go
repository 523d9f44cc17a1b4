package domain

import "errors"

// ErrorKind classifies a failure for transport mapping and recovery
// decisions. Validation conflicts are deterministic business-rule rejections;
// infrastructure failures are environmental and may warrant a fallback path.
type ErrorKind string

const (
	KindUnauthorized          ErrorKind = "unauthorized"
	KindForbidden             ErrorKind = "forbidden"
	KindNotFound              ErrorKind = "not_found"
	KindValidationConflict    ErrorKind = "validation_conflict"
	KindInfrastructureFailure ErrorKind = "infrastructure_failure"
	KindUpstreamUnavailable   ErrorKind = "upstream_unavailable"
	KindCancelled             ErrorKind = "cancelled"
	// KindEmergencyPathExhausted means both the canonical write path and the
	// emergency fallback failed; nothing was persisted.
	KindEmergencyPathExhausted ErrorKind = "emergency_path_exhausted"
)

// Error is a kind-tagged domain error. Message is safe to surface to API
// callers; Err carries the underlying cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a kind-tagged error.
func E(kind ErrorKind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the kind of an error, walking the wrap chain. Untagged
// errors classify as infrastructure failures.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInfrastructureFailure
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
