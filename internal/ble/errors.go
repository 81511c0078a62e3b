package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapter means the local Bluetooth adapter could not be enabled.
	ErrAdapter = errors.New("ble: adapter unavailable")
	// ErrDeviceNotFound means no advertisement matched the address before
	// the scan timeout.
	ErrDeviceNotFound = errors.New("ble: device not found")
	// ErrConnect means the connection failed, timed out or dropped before
	// writing began.
	ErrConnect = errors.New("ble: connect failed")
	// ErrNoWritableCharacteristic means the connected device exposes no
	// usable write characteristic.
	ErrNoWritableCharacteristic = errors.New("ble: no writable characteristic")
	// ErrWrite means a chunk write failed. Part of the payload may have
	// printed.
	ErrWrite = errors.New("ble: write failed")
)

// WriteError reports a failed chunk write after writing began.
type WriteError struct {
	Chunk int // zero-based index of the failing chunk
	Sent  int // bytes acknowledged by the link before the failure
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ble: write chunk %d after %d bytes: %v", e.Chunk, e.Sent, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

// IsPreWrite reports whether err happened before any byte reached the
// printer, which makes a fresh attempt safe.
func IsPreWrite(err error) bool {
	if errors.Is(err, ErrWrite) {
		return false
	}
	return errors.Is(err, ErrAdapter) ||
		errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrConnect) ||
		errors.Is(err, ErrNoWritableCharacteristic)
}
