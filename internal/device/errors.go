package device

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("device not found")
	ErrBusy           = errors.New("device busy")
	ErrTimeout        = errors.New("timed out waiting for data")
	ErrHardware       = errors.New("hardware error")
	ErrBufferTooSmall = errors.New("buffer too small")
	// ErrPartialStart is returned when the cameras started but the IMU did
	// not. The cameras are stopped again before it is returned.
	ErrPartialStart   = errors.New("partial start")
	ErrAlreadyStarted = errors.New("streams already started")
	ErrNotStarted     = errors.New("streams not started")
	ErrClosed         = errors.New("device closed")
	ErrReleased       = errors.New("capture released")
	ErrInvalidConfig  = errors.New("invalid device configuration")
)

// HardwareError is a failed backend operation.
type HardwareError struct {
	Msg  string
	Code Result
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %s", e.Msg, e.Code)
}

// Unwrap maps the result code onto the matching sentinel so callers can use
// errors.Is. Codes without a more specific sentinel unwrap to ErrHardware.
func (e *HardwareError) Unwrap() error {
	switch e.Code {
	case ResultTimeout:
		return ErrTimeout
	case ResultNotFound:
		return ErrNotFound
	case ResultBusy:
		return ErrBusy
	case ResultBufferTooSmall:
		return ErrBufferTooSmall
	}
	return ErrHardware
}
