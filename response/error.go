package response

import (
	"errors"
	"fmt"

	"github.com/mamazine/backend/fault"
)

// Error is the client-facing error shape. Detail such as stack causes and
// completed-step history is stripped before it reaches this type; only the
// coarse code and messages cross the wire.
type Error struct {
	StatusCode int      `json:"-"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Messages   []string `json:"messages,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func makeError(status int, code string) *Error {
	return &Error{
		StatusCode: status,
		Code:       code,
		Messages:   make([]string, 0),
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return makeError(500, "unexpected").
		WithMessage("An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return makeError(400, string(fault.KindValidation)).
		WithMessage("Bad request")
}

func ErrUnauthorized() *Error {
	return makeError(401, "unauthorized").
		WithMessage("Unauthorized")
}

func ErrForbidden() *Error {
	return makeError(403, "forbidden").
		WithMessage("Forbidden")
}

func ErrNotFound() *Error {
	return makeError(404, string(fault.KindNotFound)).
		WithMessage("Requested resources not found")
}

func ErrInvalidJson() *Error {
	return ErrBadRequest().AddMessages("Invalid JSON body")
}

func ErrNoBearer() *Error {
	return ErrUnauthorized().AddMessages("No valid Bearer token found in header")
}

// FromFault flattens a fault.Error into the stable client-facing shape.
// Validation messages pass through verbatim; everything else collapses into
// a generic failure so internal sequencing never leaks to untrusted callers.
func FromFault(err error) *Error {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return ErrUnexpected()
	}
	switch fe.Kind {
	case fault.KindValidation:
		return ErrBadRequest().AddMessages(fe.Messages...)
	case fault.KindNotFound:
		return ErrNotFound().AddMessages(fmt.Sprintf("No %s with the given id", fe.Entity))
	case fault.KindDatabase:
		return makeError(500, string(fault.KindDatabase)).
			WithMessage("A storage error has occured")
	case fault.KindExternal:
		return makeError(500, string(fault.KindExternal)).
			WithMessage("An upstream service error has occured")
	case fault.KindPartial:
		// name the failed step, not the completed ones
		return makeError(500, string(fault.KindPartial)).
			WithMessage(fmt.Sprintf("Operation did not complete (failed at %s)", fe.FailedStep))
	}
	return ErrUnexpected()
}
