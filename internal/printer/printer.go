// Package printer selects the printer transport and prints tickets on it.
package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/ticketprint/internal/ble"
	"github.com/chaz8081/ticketprint/internal/config"
	"github.com/chaz8081/ticketprint/internal/raster"
	"github.com/chaz8081/ticketprint/internal/ticket"
)

// Kind is a printer transport.
type Kind string

const (
	KindUSB       Kind = "usb"
	KindSerial    Kind = "serial"
	KindNetwork   Kind = "network"
	KindBluetooth Kind = "bluetooth" // classic SPP over rfcomm
	KindBLE       Kind = "ble"
)

func (k Kind) String() string { return string(k) }

var (
	// ErrNotConfigured means required printer settings are missing.
	ErrNotConfigured = errors.New("printer: not configured")
	// ErrUnavailable means the printer device could not be opened.
	ErrUnavailable = errors.New("printer not available")
)

// ParseKind maps a configured printer type to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindUSB, KindSerial, KindNetwork, KindBluetooth, KindBLE:
		return k, nil
	}
	return "", fmt.Errorf("printer: unknown printer type %q (use usb, serial, network, bluetooth, or ble)", s)
}

// Printer prints tickets on one configured device.
type Printer interface {
	// Kind returns the transport kind.
	Kind() Kind
	// Print renders and prints req. It blocks until the job is done or failed.
	Print(ctx context.Context, req ticket.Request) error
	// Available reports whether the printer looks reachable right now.
	Available(ctx context.Context) bool
}

// New builds the printer selected by cfg. adapter is only used for BLE.
func New(cfg *config.Config, adapter ble.Adapter, log *zap.Logger) (Printer, error) {
	kind, err := ParseKind(cfg.Printer.Type)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	renderer := ticket.NewRenderer()
	img := RasterOptions(cfg.Image)

	if kind == KindBLE {
		transport := ble.NewTransport(adapter, BLEOptions(cfg.BLE), log.Named("ble"))
		return NewBLEPrinter(transport, cfg.BLE.Address, renderer, img, log.Named("printer")), nil
	}

	open, err := NewOpener(kind, cfg.Printer)
	if err != nil {
		return nil, err
	}
	return NewDevicePrinter(kind, open, renderer, img, log.Named("printer")), nil
}

// BLEOptions converts BLE settings into transport options.
func BLEOptions(c config.BLEConfig) ble.Options {
	return ble.Options{
		WriteCharUUID:  c.WriteCharUUID,
		ScanTimeout:    seconds(c.ScanTimeoutSec),
		ProbeTimeout:   seconds(c.ProbeTimeoutSec),
		ConnectTimeout: seconds(c.ConnectTimeoutSec),
		Retries:        c.Retries,
		RetryDelay:     seconds(c.RetryDelaySec),
		Text: ble.Profile{
			ChunkSize:    c.ChunkSize,
			WriteGap:     seconds(c.WriteGapSec),
			WithResponse: c.WriteResponse,
		},
		Image: ble.Profile{
			ChunkSize:    c.ImageChunkSize,
			WriteGap:     seconds(c.ImageWriteGapSec),
			WithResponse: c.WriteResponse,
		},
	}
}

// RasterOptions converts image settings into raster options.
func RasterOptions(c config.ImageConfig) raster.Options {
	return raster.Options{
		MaxWidth:  c.MaxWidth,
		MaxHeight: c.MaxHeight,
		Dither:    c.Dither,
		Contrast:  c.Contrast,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
