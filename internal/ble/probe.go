package ble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CharacteristicInfo describes a characteristic found while probing.
type CharacteristicInfo struct {
	UUID       string
	Properties Properties
}

// ScanDevices lists every advertising peripheral seen within timeout.
func ScanDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapter, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// WritableCharacteristics connects to address and lists the characteristics
// the transport could write to. When the platform reports no flags every
// well-known printer UUID is listed with empty properties.
func WritableCharacteristics(ctx context.Context, adapter Adapter, address string, opts Options) ([]CharacteristicInfo, error) {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultOptions().ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapter, err)
	}

	s := &session{
		transport: &Transport{adapter: adapter, opts: opts, log: zap.NewNop()},
		address:   address,
		log:       zap.NewNop(),
	}
	if err := s.find(ctx); err != nil {
		return nil, err
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Disconnect() }()

	chars, err := conn.Characteristics()
	if err != nil {
		return nil, fmt.Errorf("%w: discover: %v", ErrNoWritableCharacteristic, err)
	}

	var out []CharacteristicInfo
	flagsKnown := false
	for _, c := range chars {
		if c.Properties() != 0 {
			flagsKnown = true
		}
		if c.Properties().Writable() {
			out = append(out, CharacteristicInfo{UUID: c.UUID(), Properties: c.Properties()})
		}
	}
	if !flagsKnown {
		listed := make(map[string]bool)
		for _, c := range chars {
			uuid := strings.ToLower(c.UUID())
			if listed[uuid] {
				continue
			}
			for _, known := range KnownWriteCharUUIDs {
				if strings.EqualFold(uuid, known) {
					out = append(out, CharacteristicInfo{UUID: c.UUID()})
					listed[uuid] = true
					break
				}
			}
		}
	}
	return out, nil
}
