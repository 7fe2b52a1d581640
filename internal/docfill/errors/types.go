package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// DocError represents a generation pipeline error with its category and context
type DocError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// ErrorType represents the categories of errors a generation run can produce
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeInvalidTemplate
	ErrorTypeUnresolvedPlaceholder
	ErrorTypeRenderFailure
	ErrorTypeUploadFailure
	ErrorTypeVerificationMismatch
	ErrorTypeStoreFailure
	ErrorTypeInvalidRequest
)

// Sentinels for errors.Is matching against a category
var (
	ErrInvalidTemplate       = &DocError{Type: ErrorTypeInvalidTemplate}
	ErrUnresolvedPlaceholder = &DocError{Type: ErrorTypeUnresolvedPlaceholder}
	ErrRenderFailure         = &DocError{Type: ErrorTypeRenderFailure}
	ErrUploadFailure         = &DocError{Type: ErrorTypeUploadFailure}
	ErrVerificationMismatch  = &DocError{Type: ErrorTypeVerificationMismatch}
	ErrStoreFailure          = &DocError{Type: ErrorTypeStoreFailure}
	ErrInvalidRequest        = &DocError{Type: ErrorTypeInvalidRequest}
)

// Error implements the error interface
func (e *DocError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	prefix := e.Type.String()
	if e.Stage != "" {
		prefix += "/" + e.Stage
	}
	if e.Context != "" {
		return fmt.Sprintf("[%s] %s: %s", prefix, msg, e.Context)
	}
	return fmt.Sprintf("[%s] %s", prefix, msg)
}

// Unwrap returns the underlying cause
func (e *DocError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DocError of the same type
func (e *DocError) Is(target error) bool {
	t, ok := target.(*DocError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeInvalidTemplate:
		return "INVALID_TEMPLATE"
	case ErrorTypeUnresolvedPlaceholder:
		return "UNRESOLVED_PLACEHOLDER"
	case ErrorTypeRenderFailure:
		return "RENDER_FAILURE"
	case ErrorTypeUploadFailure:
		return "UPLOAD_FAILURE"
	case ErrorTypeVerificationMismatch:
		return "VERIFICATION_MISMATCH"
	case ErrorTypeStoreFailure:
		return "STORE_FAILURE"
	case ErrorTypeInvalidRequest:
		return "INVALID_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// IsFatal reports whether an error of this type aborts the generation run
func (et ErrorType) IsFatal() bool {
	switch et {
	case ErrorTypeUnresolvedPlaceholder, ErrorTypeVerificationMismatch:
		return false // logged and surfaced as warnings, run continues
	default:
		return true
	}
}

// New creates a new DocError
func New(errorType ErrorType, message string) *DocError {
	return &DocError{
		Type:      errorType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new DocError with a formatted message
func Newf(errorType ErrorType, format string, args ...any) *DocError {
	return New(errorType, fmt.Sprintf(format, args...))
}

// Wrap wraps err as a DocError, keeping the underlying message
func Wrap(errorType ErrorType, err error) *DocError {
	return &DocError{
		Type:      errorType,
		Message:   err.Error(),
		Timestamp: time.Now(),
		Err:       err,
	}
}

// WithContext adds context to an existing DocError
func (e *DocError) WithContext(context string) *DocError {
	e.Context = context
	return e
}

// WithStage records the pipeline stage that failed
func (e *DocError) WithStage(stage string) *DocError {
	e.Stage = stage
	return e
}

// IsFatal returns true if this error aborts the run
func (e *DocError) IsFatal() bool {
	return e.Type.IsFatal()
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var de *DocError
	if stderrors.As(err, &de) {
		return de.Type
	}
	return ErrorTypeUnknown
}
