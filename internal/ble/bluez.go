package ble

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService          = "org.bluez"
	bluezDeviceIface      = "org.bluez.Device1"
	bluezCharIface        = "org.bluez.GattCharacteristic1"
	objectManagerGetAll   = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	bluezFlagWrite        = "write"
	bluezFlagWriteNoReply = "write-without-response"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZInspector reads characteristic flags and link state from BlueZ over
// the system D-Bus.
type BlueZInspector struct {
	conn *dbus.Conn
}

// Compile-time check that BlueZInspector implements FlagInspector.
var _ FlagInspector = (*BlueZInspector)(nil)

// NewBlueZInspector connects to the system bus. It fails on hosts without
// D-Bus, for example macOS.
func NewBlueZInspector() (*BlueZInspector, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: system bus: %w", err)
	}
	return &BlueZInspector{conn: conn}, nil
}

func (b *BlueZInspector) objects() (managedObjects, error) {
	var objs managedObjects
	call := b.conn.Object(bluezService, "/").Call(objectManagerGetAll, 0)
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("ble: bluez managed objects: %w", err)
	}
	return objs, nil
}

func (b *BlueZInspector) CharacteristicFlags(address string) (map[string]Properties, error) {
	objs, err := b.objects()
	if err != nil {
		return nil, err
	}
	return characteristicFlags(objs, address)
}

func (b *BlueZInspector) Connected(address string) (bool, error) {
	objs, err := b.objects()
	if err != nil {
		return false, err
	}
	path, ok := devicePath(objs, address)
	if !ok {
		return false, fmt.Errorf("ble: bluez has no device %s", address)
	}
	connected, _ := objs[path][bluezDeviceIface]["Connected"].Value().(bool)
	return connected, nil
}

func devicePath(objs managedObjects, address string) (dbus.ObjectPath, bool) {
	for path, ifaces := range objs {
		dev, ok := ifaces[bluezDeviceIface]
		if !ok {
			continue
		}
		if addr, _ := dev["Address"].Value().(string); SameAddress(addr, address) {
			return path, true
		}
	}
	return "", false
}

func characteristicFlags(objs managedObjects, address string) (map[string]Properties, error) {
	dev, ok := devicePath(objs, address)
	if !ok {
		return nil, fmt.Errorf("ble: bluez has no device %s", address)
	}
	prefix := string(dev) + "/"
	flags := make(map[string]Properties)
	for path, ifaces := range objs {
		char, ok := ifaces[bluezCharIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, _ := char["UUID"].Value().(string)
		raw, _ := char["Flags"].Value().([]string)
		if uuid == "" {
			continue
		}
		flags[strings.ToLower(uuid)] |= parseFlags(raw)
	}
	return flags, nil
}

func parseFlags(raw []string) Properties {
	var p Properties
	for _, f := range raw {
		switch f {
		case bluezFlagWriteNoReply:
			p |= PropWriteWithoutResponse
		case bluezFlagWrite:
			p |= PropWrite
		}
	}
	return p
}
