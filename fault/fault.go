package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so that upper layers can decide how to surface it
// without inspecting the underlying cause.
type Kind string

// Defining the failure kinds understood by every layer
const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindDatabase   Kind = "database"
	KindExternal   Kind = "external_service"
	KindPartial    Kind = "partial_operation"
)

// Error is the single error type flowing between repositories, managers and
// service routers. Exactly which fields are populated depends on the Kind.
type Error struct {
	Kind     Kind
	Messages []string // KindValidation
	Entity   string   // KindNotFound
	ID       string   // KindNotFound
	Service  string   // KindExternal

	// Partial operation bookkeeping. A multi-system write that stopped
	// partway records the operation name, every step that completed in
	// order, and the step that failed. Callers decide from CompletedSteps
	// whether manual reconciliation is needed; no automatic rollback of
	// processor-side state is ever attempted.
	Operation      string
	CompletedSteps []string
	FailedStep     string

	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidation:
		return fmt.Sprintf("validation failed: %s", strings.Join(e.Messages, "; "))
	case KindNotFound:
		return fmt.Sprintf("%s with id %s not found", e.Entity, e.ID)
	case KindDatabase:
		return fmt.Sprintf("database error: %v", e.Cause)
	case KindExternal:
		if e.Cause != nil {
			return fmt.Sprintf("%s error: %v", e.Service, e.Cause)
		}
		return fmt.Sprintf("%s error: %s", e.Service, strings.Join(e.Messages, "; "))
	case KindPartial:
		return fmt.Sprintf("operation %s stopped at step %s (completed: [%s]): %v",
			e.Operation, e.FailedStep, strings.Join(e.CompletedSteps, ", "), e.Cause)
	}
	return fmt.Sprintf("unknown error: %v", e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation reports malformed user input. Messages are surfaced verbatim.
func Validation(messages ...string) *Error {
	return &Error{
		Kind:     KindValidation,
		Messages: messages,
	}
}

// NotFound reports an unresolvable entity id.
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:   KindNotFound,
		Entity: entity,
		ID:     id,
	}
}

// Database reports a store-level fault. Never retried within the request.
func Database(cause error) *Error {
	return &Error{
		Kind:  KindDatabase,
		Cause: cause,
	}
}

// External reports that the named external service was unreachable or
// rejected the call.
func External(service string, cause error, messages ...string) *Error {
	return &Error{
		Kind:     KindExternal,
		Service:  service,
		Messages: messages,
		Cause:    cause,
	}
}

// Partial reports a multi-system write that stopped partway. completedSteps
// must list the steps that succeeded, in the order they ran.
func Partial(operation string, completedSteps []string, failedStep string, cause error) *Error {
	if completedSteps == nil {
		completedSteps = []string{}
	}
	return &Error{
		Kind:           KindPartial,
		Operation:      operation,
		CompletedSteps: completedSteps,
		FailedStep:     failedStep,
		Cause:          cause,
	}
}

// KindOf returns the Kind of err, unwrapping as needed, or an empty Kind
// for foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// GetPartial returns the partial-operation record of err, if any.
func GetPartial(err error) (*Error, bool) {
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindPartial {
		return nil, false
	}
	return fe, true
}
