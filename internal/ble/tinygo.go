package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

const stopScanRetry = 50 * time.Millisecond

// FlagInspector reports what the platform knows about a connected device
// beyond what tinygo exposes.
type FlagInspector interface {
	// CharacteristicFlags maps lowercase characteristic UUIDs to their flags.
	CharacteristicFlags(address string) (map[string]Properties, error)
	// Connected reports the platform's view of the link state.
	Connected(address string) (bool, error)
}

// TinyGoAdapter wraps tinygo-org/bluetooth. Addresses are the strings
// tinygo reports for scan results (MAC on Linux, CoreBluetoothUUID on macOS).
type TinyGoAdapter struct {
	adapter   *bluetooth.Adapter
	inspector FlagInspector
	log       *zap.Logger

	// scanMu serializes scans; the radio supports one at a time.
	scanMu sync.Mutex

	// mu protects enabled and seen.
	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address // keyed by uppercase address
}

// NewTinyGoAdapter creates an adapter over the default Bluetooth adapter.
// inspector may be nil.
func NewTinyGoAdapter(inspector FlagInspector, log *zap.Logger) *TinyGoAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &TinyGoAdapter{
		adapter:   bluetooth.DefaultAdapter,
		inspector: inspector,
		log:       log,
		seen:      make(map[string]bluetooth.Address),
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}
	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, stop func(Device) bool) ([]Device, error) {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// StopScan fails until the scan has actually started.
		ticker := time.NewTicker(stopScanRetry)
		defer ticker.Stop()
		for a.adapter.StopScan() != nil {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := strings.ToUpper(result.Address.String())
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		a.remember(addr, result.Address)

		dev := Device{Name: result.LocalName(), Address: addr, RSSI: int(result.RSSI)}
		devices = append(devices, dev)
		if stop != nil && stop(dev) {
			adapter.StopScan()
		}
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return devices, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) remember(address string, addr bluetooth.Address) {
	a.mu.Lock()
	a.seen[address] = addr
	a.mu.Unlock()
}

func (a *TinyGoAdapter) lookup(address string) (bluetooth.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.seen[strings.ToUpper(strings.TrimSpace(address))]
	return addr, ok
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	addr, ok := a.lookup(address)
	if !ok {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, errNotScanned)
	}

	// tinygo's Connect blocks with its own timeout; wrap it to respect ctx.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// Tear down a connection that completes after we gave up on it.
		go func() {
			if r := <-ch; r.err == nil {
				if err := r.device.Disconnect(); err != nil {
					a.log.Debug("late connection teardown", zap.String("address", address), zap.Error(err))
				}
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		return &tinygoConnection{
			device:    &result.device,
			address:   strings.ToUpper(address),
			inspector: a.inspector,
			log:       a.log,
		}, nil
	}
}

type tinygoConnection struct {
	device    *bluetooth.Device
	address   string
	inspector FlagInspector
	log       *zap.Logger
}

func (c *tinygoConnection) Connected() bool {
	if c.inspector == nil {
		return true
	}
	ok, err := c.inspector.Connected(c.address)
	if err != nil {
		// Unknown platform state; trust the successful connect.
		return true
	}
	return ok
}

func (c *tinygoConnection) Characteristics() ([]Characteristic, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}

	var flags map[string]Properties
	if c.inspector != nil {
		flags, err = c.inspector.CharacteristicFlags(c.address)
		if err != nil {
			c.log.Debug("characteristic flags unavailable", zap.String("address", c.address), zap.Error(err))
		}
	}

	var chars []Characteristic
	for i := range svcs {
		found, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics of %s: %w", svcs[i].UUID().String(), err)
		}
		for j := range found {
			uuid := strings.ToLower(found[j].UUID().String())
			chars = append(chars, &tinygoCharacteristic{
				char:  &found[j],
				uuid:  uuid,
				props: flags[uuid],
			})
		}
	}
	return chars, nil
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

type tinygoCharacteristic struct {
	char  *bluetooth.DeviceCharacteristic
	uuid  string
	props Properties
}

func (c *tinygoCharacteristic) UUID() string           { return c.uuid }
func (c *tinygoCharacteristic) Properties() Properties { return c.props }

func (c *tinygoCharacteristic) Write(data []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = c.char.Write(data)
	} else {
		_, err = c.char.WriteWithoutResponse(data)
	}
	return err
}
