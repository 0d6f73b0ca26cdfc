package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeValidation     = "validation_error"
	ErrCodeNotFound       = "not_found"
	ErrCodeCapacity       = "capacity_exceeded"
	ErrCodeTimeout        = "timeout"
	ErrCodeConnectionLost = "connection_lost"
	ErrCodeForbidden      = "forbidden"
	ErrCodeInternal       = "internal_error"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrCapacity       = errors.New("capacity exceeded")
	ErrTimeout        = errors.New("timed out")
	ErrConnectionLost = errors.New("connection lost")
	ErrForbidden      = errors.New("forbidden")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// Is lets errors.Is match a CoreError against the sentinel of its code.
func (e *CoreError) Is(target error) bool {
	return sentinelFor(e.Code) == target
}

func sentinelFor(code string) error {
	switch code {
	case ErrCodeValidation:
		return ErrValidation
	case ErrCodeNotFound:
		return ErrNotFound
	case ErrCodeCapacity:
		return ErrCapacity
	case ErrCodeTimeout:
		return ErrTimeout
	case ErrCodeConnectionLost:
		return ErrConnectionLost
	case ErrCodeForbidden:
		return ErrForbidden
	default:
		return nil
	}
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ValidationError reports a malformed or incomplete message.
func ValidationError(msg string) *CoreError { return coreError(ErrCodeValidation, msg) }

// NotFoundError reports an unknown room, participant or admission request.
func NotFoundError(msg string) *CoreError { return coreError(ErrCodeNotFound, msg) }

// CapacityError reports a full room or waiting room.
func CapacityError(msg string) *CoreError { return coreError(ErrCodeCapacity, msg) }

// TimeoutError reports a subscribe or acknowledgement that did not arrive in time.
func TimeoutError(msg string) *CoreError { return coreError(ErrCodeTimeout, msg) }

// ConnectionLostError reports a transport that closed unexpectedly.
func ConnectionLostError(msg string) *CoreError { return coreError(ErrCodeConnectionLost, msg) }

// ForbiddenError reports an operation the caller's role does not allow.
func ForbiddenError(msg string) *CoreError { return coreError(ErrCodeForbidden, msg) }

// AsCoreError extracts a CoreError from err, mapping unknown errors to internal_error.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return coreError(ErrCodeInternal, err.Error())
}
