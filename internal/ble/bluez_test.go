package ble

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func bluezFixture() managedObjects {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	other := dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66")
	return managedObjects{
		dev: {
			bluezDeviceIface: {
				"Address":   dbus.MakeVariant("AA:BB:CC:DD:EE:FF"),
				"Connected": dbus.MakeVariant(true),
			},
		},
		dev + "/service0010/char0011": {
			bluezCharIface: {
				"UUID":  dbus.MakeVariant("00002AF1-0000-1000-8000-00805F9B34FB"),
				"Flags": dbus.MakeVariant([]string{"write-without-response", "write"}),
			},
		},
		dev + "/service0010/char0013": {
			bluezCharIface: {
				"UUID":  dbus.MakeVariant("00002af0-0000-1000-8000-00805f9b34fb"),
				"Flags": dbus.MakeVariant([]string{"notify"}),
			},
		},
		other: {
			bluezDeviceIface: {"Address": dbus.MakeVariant("11:22:33:44:55:66")},
		},
		other + "/service0001/char0002": {
			bluezCharIface: {
				"UUID":  dbus.MakeVariant("0000ff02-0000-1000-8000-00805f9b34fb"),
				"Flags": dbus.MakeVariant([]string{"write"}),
			},
		},
	}
}

func TestCharacteristicFlags(t *testing.T) {
	flags, err := characteristicFlags(bluezFixture(), "aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("characteristicFlags() error = %v", err)
	}
	if len(flags) != 2 {
		t.Fatalf("got %d characteristics, want 2 (other device excluded)", len(flags))
	}
	if got := flags[DefaultWriteCharUUID]; got != PropWriteWithoutResponse|PropWrite {
		t.Errorf("flags[2af1] = %v, want write-without-response,write", got)
	}
	if got := flags["00002af0-0000-1000-8000-00805f9b34fb"]; got.Writable() {
		t.Errorf("notify-only characteristic reported writable: %v", got)
	}
}

func TestCharacteristicFlagsUnknownDevice(t *testing.T) {
	if _, err := characteristicFlags(bluezFixture(), "00:00:00:00:00:00"); err == nil {
		t.Error("characteristicFlags() error = nil for unknown device")
	}
}

func TestParseFlags(t *testing.T) {
	if got := parseFlags([]string{"read", "write"}); got != PropWrite {
		t.Errorf("parseFlags(read,write) = %v, want write", got)
	}
	if got := parseFlags(nil); got != 0 {
		t.Errorf("parseFlags(nil) = %v, want none", got)
	}
}
