package envoy

import (
	"errors"
)

var (
	ErrAlreadyInitialized = errors.New("bridge already initialized")
	ErrInitFailed         = errors.New("bridge initialization failed")
	ErrNotInitialized     = errors.New("bridge not initialized")
	ErrNullPointer        = errors.New("payload reference is absent")
	ErrInvalidEncoding    = errors.New("payload is not valid text")
	ErrInvalidID          = errors.New("envoy id must be nonzero")
	ErrInternalFault      = errors.New("internal fault")
	ErrQueueFull          = errors.New("queue capacity exceeded")

	// ErrUnknownHandle is returned by Release for a handle that is not on loan.
	// It has no status code: release is void at the C boundary.
	ErrUnknownHandle = errors.New("handle is not on loan")
)

// Status is the closed set of result codes returned across the C boundary.
type Status int32

const (
	StatusSuccess Status = iota
	StatusAlreadyInitialized
	StatusInitFailed
	StatusNotInitialized
	StatusNullPointer
	StatusInvalidEncoding
	StatusInvalidID
	StatusInternalFault
	StatusQueueFull
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAlreadyInitialized:
		return "already_initialized"
	case StatusInitFailed:
		return "init_failed"
	case StatusNotInitialized:
		return "not_initialized"
	case StatusNullPointer:
		return "null_pointer"
	case StatusInvalidEncoding:
		return "invalid_encoding"
	case StatusInvalidID:
		return "invalid_id"
	case StatusInternalFault:
		return "internal_fault"
	case StatusQueueFull:
		return "queue_full"
	default:
		return "unknown"
	}
}

// Statuses lists every status code in wire order.
func Statuses() []Status {
	return []Status{
		StatusSuccess,
		StatusAlreadyInitialized,
		StatusInitFailed,
		StatusNotInitialized,
		StatusNullPointer,
		StatusInvalidEncoding,
		StatusInvalidID,
		StatusInternalFault,
		StatusQueueFull,
	}
}

// Description returns a human readable description of the status.
func (s Status) Description() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusAlreadyInitialized:
		return ErrAlreadyInitialized.Error()
	case StatusInitFailed:
		return ErrInitFailed.Error()
	case StatusNotInitialized:
		return ErrNotInitialized.Error()
	case StatusNullPointer:
		return ErrNullPointer.Error()
	case StatusInvalidEncoding:
		return ErrInvalidEncoding.Error()
	case StatusInvalidID:
		return ErrInvalidID.Error()
	case StatusInternalFault:
		return ErrInternalFault.Error()
	case StatusQueueFull:
		return ErrQueueFull.Error()
	default:
		return "unknown status"
	}
}

// StatusOf maps an error returned by the bridge to its status code.
// Errors outside the bridge taxonomy map to StatusInternalFault.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrAlreadyInitialized):
		return StatusAlreadyInitialized
	case errors.Is(err, ErrInitFailed):
		return StatusInitFailed
	case errors.Is(err, ErrNotInitialized):
		return StatusNotInitialized
	case errors.Is(err, ErrNullPointer):
		return StatusNullPointer
	case errors.Is(err, ErrInvalidEncoding):
		return StatusInvalidEncoding
	case errors.Is(err, ErrInvalidID):
		return StatusInvalidID
	case errors.Is(err, ErrQueueFull):
		return StatusQueueFull
	default:
		return StatusInternalFault
	}
}
