// Package escpos builds ESC/POS byte streams for 58mm thermal printers.
package escpos

import (
	"bytes"
	"strings"
)

// ESC/POS command constants
const (
	ESC = 0x1B
	GS  = 0x1D
	LF  = 0x0A
)

// Text alignment
const (
	AlignLeft   = 0
	AlignCenter = 1
	AlignRight  = 2
)

// Font size
const (
	FontNormal = 0x00
	FontDouble = 0x11 // Double width + double height
	FontWide   = 0x10 // Double width only
	FontTall   = 0x01 // Double height only
)

var (
	cmdInit = []byte{ESC, '@'}
	cmdCut  = []byte{GS, 'V', 0x00}
)

// Frame builds the complete stream for a plain-text ticket: initialize,
// the text, an optional raster block, three line feeds and a full cut.
// Malformed UTF-8 in text is replaced with '?'.
func Frame(text string, raster []byte) []byte {
	text = strings.ToValidUTF8(text, "?")
	buf := bytes.NewBuffer(make([]byte, 0, len(cmdInit)+len(text)+1+len(raster)+3+len(cmdCut)))
	buf.Write(cmdInit)
	buf.WriteString(text)
	if len(raster) > 0 {
		buf.WriteByte(LF)
		buf.Write(raster)
	}
	buf.Write([]byte{LF, LF, LF})
	buf.Write(cmdCut)
	return buf.Bytes()
}

// MaxRasterHeight is the most rows one GS v 0 block can describe; taller
// bitmaps must be sent as several blocks.
const MaxRasterHeight = 0xFFFF

// RasterHeader returns the GS v 0 (normal density) header for a bitmap of
// bytesPerLine x height. height must not exceed MaxRasterHeight.
func RasterHeader(bytesPerLine, height int) []byte {
	return []byte{
		GS, 'v', '0', 0x00,
		byte(bytesPerLine), byte(bytesPerLine >> 8),
		byte(height), byte(height >> 8),
	}
}

// Document builds an ESC/POS byte stream with styling commands.
type Document struct {
	buf bytes.Buffer
}

// NewDocument creates a document that starts with ESC @.
func NewDocument() *Document {
	d := &Document{}
	d.Init()
	return d
}

// Init sends the ESC @ (initialize printer) command.
func (d *Document) Init() *Document {
	d.buf.Write(cmdInit)
	return d
}

// FeedLines sends n line feeds.
func (d *Document) FeedLines(n int) *Document {
	for i := 0; i < n; i++ {
		d.buf.WriteByte(LF)
	}
	return d
}

// SetAlign sets text alignment: AlignLeft, AlignCenter, AlignRight.
func (d *Document) SetAlign(align int) *Document {
	d.buf.Write([]byte{ESC, 'a', byte(align)})
	return d
}

// SetBold enables or disables bold text.
func (d *Document) SetBold(on bool) *Document {
	b := byte(0)
	if on {
		b = 1
	}
	d.buf.Write([]byte{ESC, 'E', b})
	return d
}

// SetFontSize sets the character size. Use FontNormal, FontDouble, FontWide, or FontTall.
func (d *Document) SetFontSize(size byte) *Document {
	d.buf.Write([]byte{GS, '!', size})
	return d
}

// Text writes a line of text followed by a line feed.
func (d *Document) Text(s string) *Document {
	d.buf.WriteString(strings.ToValidUTF8(s, "?"))
	d.buf.WriteByte(LF)
	return d
}

// Raw appends pre-built command bytes, such as a raster block.
func (d *Document) Raw(b []byte) *Document {
	d.buf.Write(b)
	return d
}

// Cut sends the paper cut command (full cut).
func (d *Document) Cut() *Document {
	d.buf.Write(cmdCut)
	return d
}

// Bytes returns the accumulated stream.
func (d *Document) Bytes() []byte {
	return d.buf.Bytes()
}

// Len returns the number of accumulated bytes.
func (d *Document) Len() int {
	return d.buf.Len()
}

// Reset discards the accumulated stream.
func (d *Document) Reset() {
	d.buf.Reset()
}
