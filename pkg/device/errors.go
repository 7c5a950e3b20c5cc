package device

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateIdentity = errors.New("device identity already registered")
	ErrAlreadyPaired     = errors.New("ecg device already has an associated vitals device")
	ErrUnknownDevice     = errors.New("unknown device")
	ErrSinkUnavailable   = errors.New("sink unavailable")
	ErrPatientMismatch   = errors.New("vitals device patient does not match ecg device")
	ErrKindMismatch      = errors.New("stream kind not accepted here")
	ErrAlreadyStarted    = errors.New("stream already started")
	ErrRegistryClosed    = errors.New("registry is shut down")
	ErrMissingPatient    = errors.New("stream has no patient context")
)

// DeviceError ties a failure to the operation and device it happened on.
type DeviceError struct {
	Op       string
	DeviceID string
	Err      error
}

func (e *DeviceError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func deviceErr(op, id string, err error) error {
	return &DeviceError{Op: op, DeviceID: id, Err: err}
}
