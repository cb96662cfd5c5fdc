package envelope

import (
	"fmt"
)

// ValidationError reports an invocation Encode refuses to serialise.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("envelope: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnsupportedEncodingError reports a content type or content encoding
// no serializer is registered for.
type UnsupportedEncodingError struct {
	Field string
	Value string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("envelope: unsupported %s %q", e.Field, e.Value)
}

// MalformedBodyError reports a body that is not an (args, kwargs, options) tuple.
type MalformedBodyError struct {
	Reason string
	Err    error
}

func (e *MalformedBodyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: malformed body: %s: %v", e.Reason, e.Err)
	}
	return "envelope: malformed body: " + e.Reason
}

func (e *MalformedBodyError) Unwrap() error { return e.Err }

// MissingFieldError reports a required header that is absent or empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("envelope: missing header %q", e.Field)
}

// InvalidFieldError reports a header present with a value of the wrong shape.
type InvalidFieldError struct {
	Field string
	Value any
	Err   error
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("envelope: invalid header %q (%v): %v", e.Field, e.Value, e.Err)
}

func (e *InvalidFieldError) Unwrap() error { return e.Err }
