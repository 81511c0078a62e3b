// Package raster converts images into ESC/POS GS v 0 raster blocks for
// monochrome thermal printers.
package raster

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/makeworld-the-better-one/dither/v2"

	"github.com/chaz8081/ticketprint/internal/escpos"
)

// DefaultMaxWidth is the printable width of a 58mm head in dots.
const DefaultMaxWidth = 384

// Options controls image conversion.
type Options struct {
	MaxWidth  int     // dots; 0 means unbounded
	MaxHeight int     // dots; 0 means unbounded
	Dither    bool    // Floyd–Steinberg instead of a fixed threshold
	Contrast  float64 // 1 leaves contrast unchanged
}

// DefaultOptions returns the options used for 58mm printers.
func DefaultOptions() Options {
	return Options{MaxWidth: DefaultMaxWidth, Dither: true, Contrast: 1}
}

// Image is a packed 1-bit bitmap: rows MSB first, 1 = dot printed.
type Image struct {
	Width  int
	Height int
	Data   []byte
}

// BytesPerLine returns the packed row width.
func (r *Image) BytesPerLine() int {
	return (r.Width + 7) / 8
}

// Command returns the bitmap as GS v 0 blocks, each header followed by its
// rows. Bitmaps taller than escpos.MaxRasterHeight span several blocks.
func (r *Image) Command() []byte {
	stride := r.BytesPerLine()
	blocks := (r.Height + escpos.MaxRasterHeight - 1) / escpos.MaxRasterHeight
	out := make([]byte, 0, 8*blocks+len(r.Data))
	for y := 0; y < r.Height; y += escpos.MaxRasterHeight {
		rows := min(escpos.MaxRasterHeight, r.Height-y)
		out = append(out, escpos.RasterHeader(stride, rows)...)
		out = append(out, r.Data[y*stride:(y+rows)*stride]...)
	}
	return out
}

// Encode converts img to a complete raster command.
func Encode(img image.Image, opts Options) []byte {
	return Rasterize(img, opts).Command()
}

// Rasterize flattens, scales, grays, adjusts contrast and converts img to
// a packed bitmap.
func Rasterize(img image.Image, opts Options) *Image {
	src := flatten(img)
	src = fit(src, opts.MaxWidth, opts.MaxHeight)
	gray := imaging.Grayscale(src)
	if opts.Contrast > 0 && opts.Contrast != 1 {
		gray = contrast(gray, opts.Contrast)
	}

	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	white := monochrome(gray, opts.Dither)

	// Mono convention is 1 = white with white padding; inverting gives
	// the printer's 1 = black and leaves padding unprinted.
	stride := (w + 7) / 8
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		row := data[y*stride : (y+1)*stride]
		for i := range row {
			row[i] = 0xFF
		}
		for x := 0; x < w; x++ {
			if !white(x, y) {
				row[x/8] &^= 0x80 >> uint(x%8)
			}
		}
		for i := range row {
			row[i] = ^row[i]
		}
	}
	return &Image{Width: w, Height: h, Data: data}
}

// flatten composites img onto white so transparent areas do not print.
func flatten(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	b := src.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, src, image.Pt(0, 0), 1.0)
}

// fit scales down to fit the bounds, preserving aspect ratio. Never upscales.
func fit(img *image.NRGBA, maxW, maxH int) *image.NRGBA {
	b := img.Bounds()
	if maxW <= 0 {
		maxW = b.Dx()
	}
	if maxH <= 0 {
		maxH = b.Dy()
	}
	if b.Dx() <= maxW && b.Dy() <= maxH {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}

// contrast applies a linear contrast factor around the mean gray level.
func contrast(gray *image.NRGBA, factor float64) *image.NRGBA {
	b := gray.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return gray
	}
	var sum float64
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			sum += float64(row[i])
		}
	}
	mean := float64(int(sum/float64(n) + 0.5))

	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := clamp(mean + factor*(float64(c.R)-mean))
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// monochrome returns a predicate reporting whether pixel (x, y) is white.
func monochrome(gray *image.NRGBA, useDither bool) func(x, y int) bool {
	if !useDither {
		return func(x, y int) bool {
			return gray.Pix[y*gray.Stride+x*4] >= 128
		}
	}
	d := dither.NewDitherer([]color.Color{color.Black, color.White})
	d.Matrix = dither.FloydSteinberg
	pal := d.DitherPaletted(gray)
	return func(x, y int) bool {
		r, _, _, _ := pal.At(pal.Rect.Min.X+x, pal.Rect.Min.Y+y).RGBA()
		return r >= 0x8000
	}
}
