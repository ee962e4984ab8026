// Package errs defines the structured error taxonomy shared by the
// ingestion, routing, and reminder paths. Error codes drive retry
// policy and the split between aborting and degrading failures.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes an error for handling and monitoring.
type Code string

const (
	// CodeValidation indicates bad input; rejected synchronously, never retried.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeStorage indicates a local persistence or filesystem failure.
	CodeStorage Code = "STORAGE_ERROR"

	// CodeIngestion indicates a payload that stayed unreachable after bounded retries.
	CodeIngestion Code = "INGESTION_ERROR"

	// CodeTranscription indicates a failed transcription; ingestion degrades, not aborts.
	CodeTranscription Code = "TRANSCRIPTION_ERROR"

	// CodeClassifier indicates a classifier failure; routing degrades to memory.
	CodeClassifier Code = "CLASSIFIER_ERROR"

	// CodeDelivery indicates a reminder delivery failure, retried by the scheduler.
	CodeDelivery Code = "DELIVERY_ERROR"

	// CodeInvalidState indicates an operation illegal in the entity's current state.
	CodeInvalidState Code = "INVALID_STATE"
)

// Error carries a code, a human-readable message, and the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient. Validation and
// invalid-state errors are never retried; delivery errors are retried
// by the scheduler up to its attempt bound.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeIngestion, CodeDelivery, CodeTranscription, CodeClassifier:
		return true
	default:
		return false
	}
}

// New creates an Error with the given code and message.
func New(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Validation creates a validation error.
func Validation(message string, err error) *Error {
	return New(CodeValidation, message, err)
}

// Storage creates a storage error.
func Storage(message string, err error) *Error {
	return New(CodeStorage, message, err)
}

// Ingestion creates an ingestion error.
func Ingestion(message string, err error) *Error {
	return New(CodeIngestion, message, err)
}

// Transcription creates a transcription error.
func Transcription(message string, err error) *Error {
	return New(CodeTranscription, message, err)
}

// Classifier creates a classifier error.
func Classifier(message string, err error) *Error {
	return New(CodeClassifier, message, err)
}

// Delivery creates a delivery error.
func Delivery(message string, err error) *Error {
	return New(CodeDelivery, message, err)
}

// InvalidState creates an invalid-state error.
func InvalidState(message string, err error) *Error {
	return New(CodeInvalidState, message, err)
}

// CodeOf extracts the Code from err, or empty if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
