package problem

import (
	"fmt"
)

const maxExtensionStringLen = 512

// Error is the tagged-variant failure value every core component raises:
// a stable Type plus JSON-primitive extensions. The rendering layer (an
// HTTP or messaging binding) maps it to a status code and problem+json body;
// the core itself never renders HTTP.
type Error struct {
	Type       Type
	Detail     string
	Extensions map[string]interface{}
	Stack      []byte
	cause      error
}

// New builds an Error of the given Type with a human-readable detail and
// optional extensions. String extension values longer than 512 chars are
// truncated so internal messages never leak unbounded detail.
func New(t Type, detail string, extensions map[string]interface{}) *Error {
	e := &Error{Type: t, Detail: detail, Extensions: truncateExtensions(extensions)}
	if t.CapturesStack() {
		e.Stack = captureStack()
	}
	return e
}

// Wrap attaches cause as the Error's Unwrap target, so errors.Is/errors.As
// chains through to the underlying failure without exposing it in Detail.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

func truncateExtensions(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok && len(s) > maxExtensionStringLen {
			out[k] = s[:maxExtensionStringLen] + "…"
			continue
		}
		out[k] = v
	}
	return out
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Type.Slug, e.Detail)
	}
	return e.Type.Slug
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a problem.Error of the same Type, allowing
// errors.Is(err, problem.New(problem.TenantRequired, "", nil)) style checks.
// Targets that are not a *Error never match; use Of to test against a Type.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type.Slug == other.Type.Slug
}

// WithExtension returns a copy of e with key=value merged into Extensions.
func (e *Error) WithExtension(key string, value interface{}) *Error {
	out := *e
	out.Extensions = make(map[string]interface{}, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		out.Extensions[k] = v
	}
	out.Extensions[key] = truncateValue(value)
	return &out
}

func truncateValue(v interface{}) interface{} {
	if s, ok := v.(string); ok && len(s) > maxExtensionStringLen {
		return s[:maxExtensionStringLen] + "…"
	}
	return v
}

// Of reports whether err (or something it wraps) is a problem.Error of kind t.
func Of(err error, t Type) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			if pe.Type.Slug == t.Slug {
				return true
			}
			err = pe.cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe, true
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
