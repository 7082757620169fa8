package utils

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies failures for callers and for the HTTP layer.
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION"
	KindPermissionDenied ErrorKind = "PERMISSION_DENIED"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindConflict         ErrorKind = "CONFLICT"
	KindIntegrity        ErrorKind = "INTEGRITY"
	KindInternal         ErrorKind = "INTERNAL"
)

// Incident severities for the error log.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// AppError is a classified failure with a user facing message.
type AppError struct {
	Kind     ErrorKind
	Code     string
	Message  string
	Metadata map[string]any
	Err      error
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// With attaches metadata and returns the receiver.
func (e *AppError) With(key string, value any) *AppError {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[key] = value
	return e
}

func newError(kind ErrorKind, code, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewValidationError(code, format string, args ...any) *AppError {
	return newError(KindValidation, code, format, args...)
}

func NewPermissionDenied(code, format string, args ...any) *AppError {
	return newError(KindPermissionDenied, code, format, args...)
}

// NewNotFound is also used for rows owned by another tenant.
func NewNotFound(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Code: "NOT_FOUND", Message: resource + " not found", Err: ErrorRecordNotFound}
}

func NewConflict(code, format string, args ...any) *AppError {
	return newError(KindConflict, code, format, args...)
}

func NewIntegrityError(code string, err error) *AppError {
	return &AppError{Kind: KindIntegrity, Code: code, Message: "the operation violated a data constraint", Err: err}
}

// KindOf classifies any error, including raw store errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return KindIntegrity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindConflict
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// AsAppError wraps unclassified errors so every failure leaving an operation
// carries a kind.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch KindOf(err) {
	case KindNotFound:
		return &AppError{Kind: KindNotFound, Code: "NOT_FOUND", Message: "record not found", Err: err}
	case KindIntegrity:
		return NewIntegrityError("CONSTRAINT_VIOLATION", err)
	case KindConflict:
		return &AppError{Kind: KindConflict, Code: "TX_TIMEOUT", Message: "the operation timed out, please retry", Err: err}
	}
	return &AppError{Kind: KindInternal, Code: "INTERNAL", Message: "unexpected error", Err: err}
}

// SeverityOf maps a failure to its error log severity.
func SeverityOf(err error) string {
	switch KindOf(err) {
	case KindIntegrity, KindInternal:
		return SeverityCritical
	case KindPermissionDenied:
		return SeverityHigh
	case KindValidation, KindNotFound, KindConflict:
		return SeverityMedium
	}
	return SeverityLow
}
