package reactive

import (
	"errors"
	"fmt"
)

// Error is raised by operators and the compiler.
//
// Codes:
//   - STRUCTURAL: a statement or expression cannot be decomposed
//   - EXECUTION: the store rejected a query (Err holds the driver error)
//   - CONSISTENCY: materialized state no longer matches the store
//   - UNSUPPORTED: a query shape has no incremental operator
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operator or stage that failed.
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	ErrCodeStructural  ErrorCode = "STRUCTURAL"
	ErrCodeExecution   ErrorCode = "EXECUTION"
	ErrCodeConsistency ErrorCode = "CONSISTENCY"
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func structuralf(op string, cause error, format string, args ...any) error {
	return &Error{Code: ErrCodeStructural, Op: op, Message: fmt.Sprintf(format, args...), Err: cause}
}

func unsupportedf(format string, args ...any) error {
	return &Error{Code: ErrCodeUnsupported, Message: fmt.Sprintf(format, args...)}
}

func consistencyf(op string, format string, args ...any) error {
	return &Error{Code: ErrCodeConsistency, Op: op, Message: fmt.Sprintf(format, args...)}
}

// execErr wraps a store failure. Engine errors pass through untouched.
func execErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: ErrCodeExecution, Op: op, Message: "store query failed", Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsStructural returns true for statements or shapes that cannot be decomposed.
func IsStructural(err error) bool { return hasCode(err, ErrCodeStructural) }

// IsExecution returns true for store execution failures.
func IsExecution(err error) bool { return hasCode(err, ErrCodeExecution) }

// IsConsistency returns true when materialized state diverged from the store.
func IsConsistency(err error) bool { return hasCode(err, ErrCodeConsistency) }

// IsUnsupported returns true when a query shape has no direct operator.
func IsUnsupported(err error) bool { return hasCode(err, ErrCodeUnsupported) }
