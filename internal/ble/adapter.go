// Package ble provides the BLE transport for ESC/POS thermal printers that
// expose a writable GATT characteristic. It handles device discovery,
// characteristic selection, chunked paced writes and retry policy.
package ble

import (
	"context"
	"strings"
)

// DefaultWriteCharUUID is the characteristic most 58mm BLE printers accept
// raw ESC/POS on.
const DefaultWriteCharUUID = "00002af1-0000-1000-8000-00805f9b34fb"

// KnownWriteCharUUIDs lists write characteristics seen on common printer
// firmwares, in order of preference. Used when the platform cannot report
// characteristic flags.
var KnownWriteCharUUIDs = []string{
	DefaultWriteCharUUID,
	"0000ff02-0000-1000-8000-00805f9b34fb",
	"0000ff82-0000-1000-8000-00805f9b34fb",
	"0000fff2-0000-1000-8000-00805f9b34fb",
	"0000fec7-0000-1000-8000-00805f9b34fb",
	"bef8d6c9-9c21-4c9e-b632-bd58c1009f9f",
	"49535343-8841-43f4-a8d4-ecbe34729bb3",
}

// Properties is the set of GATT characteristic flags the transport cares about.
type Properties uint8

const (
	PropWriteWithoutResponse Properties = 1 << iota
	PropWrite
)

// Writable reports whether either write flag is set.
func (p Properties) Writable() bool {
	return p&(PropWriteWithoutResponse|PropWrite) != 0
}

func (p Properties) String() string {
	var flags []string
	if p&PropWriteWithoutResponse != 0 {
		flags = append(flags, "write-without-response")
	}
	if p&PropWrite != 0 {
		flags = append(flags, "write")
	}
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, ",")
}

// Characteristic represents a BLE GATT characteristic on a connected printer.
type Characteristic interface {
	// UUID returns the lowercase 128-bit UUID string.
	UUID() string
	// Properties returns the characteristic's write flags. Zero means the
	// platform did not report any.
	Properties() Properties
	// Write sends data, waiting for the peripheral's acknowledgement when
	// withResponse is true.
	Write(data []byte, withResponse bool) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Connected reports whether the link is still up.
	Connected() bool
	// Characteristics discovers every characteristic of every service.
	Characteristics() ([]Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan collects advertising peripherals until ctx is done or stop
	// returns true for a device. A nil stop scans until ctx is done.
	Scan(ctx context.Context, stop func(Device) bool) ([]Device, error)
	// Connect establishes a connection to a previously scanned address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// SameAddress compares two device addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
