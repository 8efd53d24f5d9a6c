package domain

import "errors"

// ErrorClass buckets errors so StreamManager and BatchWriter can pick a
// retry policy without inspecting error strings.
type ErrorClass string

const (
	ClassConfigInvalid            ErrorClass = "config_invalid"
	ClassUpstreamConnect          ErrorClass = "upstream_connect"
	ClassUpstreamRateLimited      ErrorClass = "upstream_rate_limited"
	ClassUpstreamFatalAuth        ErrorClass = "upstream_fatal_auth"
	ClassParseMalformed           ErrorClass = "parse_malformed"
	ClassDbTransient              ErrorClass = "db_transient"
	ClassDbFatal                  ErrorClass = "db_fatal"
	ClassLogicalInvariantViolated ErrorClass = "logical_invariant_violation"
)

// ClassifiedError wraps an underlying error with the class that determines
// how callers should react to it (retry, escalate, drop).
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewClassifiedError tags err with class. Callers downstream use
// errors.As to recover the class without caring which package raised it.
func NewClassifiedError(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// ClassOf extracts the ErrorClass from err, returning ok=false if err was
// never classified.
func ClassOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return "", false
}

var (
	ErrDuplicateSignature = errors.New("trade signature already recorded")
	ErrTokenNotFound      = errors.New("token not found")
	ErrStaleUpdate        = errors.New("update slot precedes latest known slot")
	ErrVersionConflict    = errors.New("optimistic lock version conflict")
)
