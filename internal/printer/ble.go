package printer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chaz8081/ticketprint/internal/ble"
	"github.com/chaz8081/ticketprint/internal/escpos"
	"github.com/chaz8081/ticketprint/internal/raster"
	"github.com/chaz8081/ticketprint/internal/ticket"
)

// Sender is the BLE transport as seen by BLEPrinter.
type Sender interface {
	Send(ctx context.Context, address string, payload []byte, kind ble.PayloadKind) error
	IsAvailable(ctx context.Context, address string) bool
}

// BLEPrinter frames tickets as plain ESC/POS and sends them over BLE.
type BLEPrinter struct {
	sender   Sender
	address  string
	renderer *ticket.Renderer
	img      raster.Options
	log      *zap.Logger
}

// Compile-time interface satisfaction check.
var _ Printer = (*BLEPrinter)(nil)

// NewBLEPrinter creates a BLEPrinter for the device at address.
// Panics if sender is nil (programmer error).
func NewBLEPrinter(sender Sender, address string, renderer *ticket.Renderer, img raster.Options, log *zap.Logger) *BLEPrinter {
	if sender == nil {
		panic("printer: NewBLEPrinter called with nil sender")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BLEPrinter{
		sender:   sender,
		address:  strings.TrimSpace(address),
		renderer: renderer,
		img:      img,
		log:      log,
	}
}

func (p *BLEPrinter) Kind() Kind { return KindBLE }

// Payload builds the ESC/POS stream for req and the profile it should be
// sent with.
func (p *BLEPrinter) Payload(req ticket.Request) ([]byte, ble.PayloadKind) {
	text := p.renderer.Text(req)
	if req.Image == nil {
		return escpos.Frame(text, nil), ble.PayloadText
	}
	return escpos.Frame(text, raster.Encode(req.Image, p.img)), ble.PayloadImage
}

func (p *BLEPrinter) Print(ctx context.Context, req ticket.Request) error {
	if p.address == "" {
		return fmt.Errorf("%w: BLE_PRINTER_ADDR is not set", ErrNotConfigured)
	}
	payload, kind := p.Payload(req)
	p.log.Info("printing ticket",
		zap.String("address", p.address),
		zap.String("sender", req.Sender),
		zap.Stringer("payload", kind),
		zap.Int("bytes", len(payload)))

	if err := p.sender.Send(ctx, p.address, payload, kind); err != nil {
		return fmt.Errorf("printer: ble print: %w", err)
	}
	return nil
}

func (p *BLEPrinter) Available(ctx context.Context) bool {
	if p.address == "" {
		return false
	}
	return p.sender.IsAvailable(ctx, p.address)
}
