package printer

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/chaz8081/ticketprint/internal/escpos"
	"github.com/chaz8081/ticketprint/internal/raster"
	"github.com/chaz8081/ticketprint/internal/ticket"
)

// Style is the character style for subsequent lines.
type Style struct {
	Align  int // escpos.AlignLeft, AlignCenter or AlignRight
	Bold   bool
	Double bool // double width and height
}

// TextDevice is a styled line printer.
type TextDevice interface {
	SetStyle(s Style) error
	WriteLine(text string) error
	Raster(cmd []byte) error
	// Cut cuts the paper and flushes the job to the device.
	Cut() error
}

// escposDevice buffers an ESC/POS document and writes it on Cut.
type escposDevice struct {
	w   io.Writer
	doc *escpos.Document
}

// NewTextDevice returns an ESC/POS TextDevice writing to w.
func NewTextDevice(w io.Writer) TextDevice {
	return &escposDevice{w: w, doc: escpos.NewDocument()}
}

func (d *escposDevice) SetStyle(s Style) error {
	size := byte(escpos.FontNormal)
	if s.Double {
		size = escpos.FontDouble
	}
	d.doc.SetAlign(s.Align).SetFontSize(size).SetBold(s.Bold)
	return nil
}

func (d *escposDevice) WriteLine(text string) error {
	d.doc.Text(text)
	return nil
}

func (d *escposDevice) Raster(cmd []byte) error {
	d.doc.Raw(cmd).FeedLines(1)
	return nil
}

func (d *escposDevice) Cut() error {
	d.doc.Cut()
	_, err := d.w.Write(d.doc.Bytes())
	d.doc.Reset()
	return err
}

var (
	styleBanner = Style{Align: escpos.AlignCenter, Bold: true, Double: true}
	styleRule   = Style{Align: escpos.AlignCenter}
	styleStrong = Style{Align: escpos.AlignLeft, Bold: true}
	stylePlain  = Style{Align: escpos.AlignLeft}
)

func styleFor(r ticket.Role) Style {
	switch r {
	case ticket.RoleBanner, ticket.RoleTitle:
		return styleBanner
	case ticket.RoleSeparator:
		return styleRule
	case ticket.RoleSender, ticket.RoleHeader:
		return styleStrong
	}
	return stylePlain
}

// FormatTicket prints the ticket lines with per-role styles, an optional
// raster block, two blank lines and a cut.
func FormatTicket(dev TextDevice, lines []ticket.Line, rasterCmd []byte) error {
	var current *Style
	for _, l := range lines {
		s := styleFor(l.Role)
		if current == nil || *current != s {
			if err := dev.SetStyle(s); err != nil {
				return err
			}
			current = &s
		}
		if err := dev.WriteLine(l.Text); err != nil {
			return err
		}
	}
	if len(rasterCmd) > 0 {
		if err := dev.SetStyle(Style{Align: escpos.AlignCenter}); err != nil {
			return err
		}
		if err := dev.Raster(rasterCmd); err != nil {
			return err
		}
	}
	if err := dev.SetStyle(stylePlain); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if err := dev.WriteLine(""); err != nil {
			return err
		}
	}
	return dev.Cut()
}

// DevicePrinter prints styled tickets on a USB, serial, rfcomm or network
// printer, opening the device for each job.
type DevicePrinter struct {
	kind     Kind
	open     Opener
	renderer *ticket.Renderer
	img      raster.Options
	log      *zap.Logger
}

// Compile-time interface satisfaction check.
var _ Printer = (*DevicePrinter)(nil)

// NewDevicePrinter creates a DevicePrinter over open.
func NewDevicePrinter(kind Kind, open Opener, renderer *ticket.Renderer, img raster.Options, log *zap.Logger) *DevicePrinter {
	if log == nil {
		log = zap.NewNop()
	}
	return &DevicePrinter{kind: kind, open: open, renderer: renderer, img: img, log: log}
}

func (p *DevicePrinter) Kind() Kind { return p.kind }

func (p *DevicePrinter) Print(ctx context.Context, req ticket.Request) error {
	w, err := p.open(ctx)
	if err != nil {
		p.log.Error("failed to open printer", zap.Stringer("kind", p.kind), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			p.log.Debug("close printer", zap.Error(cerr))
		}
	}()

	var rasterCmd []byte
	if req.Image != nil {
		rasterCmd = raster.Encode(req.Image, p.img)
	}
	p.log.Info("printing ticket", zap.Stringer("kind", p.kind), zap.String("sender", req.Sender), zap.Bool("image", rasterCmd != nil))

	if err := FormatTicket(NewTextDevice(w), p.renderer.Lines(req), rasterCmd); err != nil {
		p.log.Error("failed to write ticket", zap.Stringer("kind", p.kind), zap.Error(err))
		return fmt.Errorf("%w: %s print: %w", ErrUnavailable, p.kind, err)
	}
	return nil
}

func (p *DevicePrinter) Available(ctx context.Context) bool {
	w, err := p.open(ctx)
	if err != nil {
		p.log.Debug("printer unavailable", zap.Stringer("kind", p.kind), zap.Error(err))
		return false
	}
	_ = w.Close()
	return true
}
