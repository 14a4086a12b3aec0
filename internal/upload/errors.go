package upload

import (
	"errors"
	"fmt"
)

// Validation failures. Always user-correctable and raised before any
// network call.
var (
	ErrEmptyFile       = errors.New("upload: file is empty")
	ErrTooLarge        = errors.New("upload: file exceeds maximum size")
	ErrUnsupportedType = errors.New("upload: unsupported video type")
	ErrInvalidPrivacy  = errors.New("upload: invalid privacy status")
)

// Publish failure kinds.
var (
	ErrNotAuthenticated   = errors.New("upload: not authenticated")
	ErrInitiationFailed   = errors.New("upload: session initiation failed")
	ErrTransferFailed     = errors.New("upload: chunk transfer failed")
	ErrFinalizationFailed = errors.New("upload: finalization failed")
)

// ValidationError reports a rejected request.
type ValidationError struct {
	Field string
	Err   error // one of the validation sentinels
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PublishError is a terminal publish failure. Kind is one of the publish
// sentinels; Offset is the last byte count the platform acknowledged, kept
// so a caller can report how far the transfer got.
type PublishError struct {
	Kind    error
	Offset  int64
	Session Session
	Err     error
}

func (e *PublishError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (at byte %d)", e.Kind.Error(), e.Offset)
	}

	return fmt.Sprintf("%s (at byte %d): %s", e.Kind.Error(), e.Offset, e.Err.Error())
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *PublishError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// Kind returns the publish or validation sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrEmptyFile, ErrTooLarge, ErrUnsupportedType, ErrInvalidPrivacy,
		ErrNotAuthenticated, ErrInitiationFailed, ErrTransferFailed, ErrFinalizationFailed,
	} {
		if errors.Is(err, k) {
			return k
		}
	}

	return nil
}

var kindNames = map[error]string{
	ErrEmptyFile:          "empty_file",
	ErrTooLarge:           "too_large",
	ErrUnsupportedType:    "unsupported_type",
	ErrInvalidPrivacy:     "invalid_privacy",
	ErrNotAuthenticated:   "not_authenticated",
	ErrInitiationFailed:   "initiation_failed",
	ErrTransferFailed:     "transfer_failed",
	ErrFinalizationFailed: "finalization_failed",
}

// KindName returns a stable snake_case name for err's kind, or "internal".
func KindName(err error) string {
	if name, ok := kindNames[Kind(err)]; ok {
		return name
	}

	return "internal"
}
