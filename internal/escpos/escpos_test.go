package escpos

import (
	"bytes"
	"testing"
)

func TestFrameTextOnly(t *testing.T) {
	text := "TICKET\nFrom: Bob\n"
	got := Frame(text, nil)

	want := append([]byte{0x1B, 0x40}, []byte(text)...)
	want = append(want, '\n', '\n', '\n', 0x1D, 0x56, 0x00)
	if !bytes.Equal(got, want) {
		t.Errorf("Frame() = % x\nwant % x", got, want)
	}
}

func TestFrameWithRaster(t *testing.T) {
	raster := append(RasterHeader(1, 1), 0xFF)
	got := Frame("hi\n", raster)

	if !bytes.HasPrefix(got, []byte{0x1B, 0x40, 'h', 'i', '\n', '\n'}) {
		t.Errorf("Frame() prefix = % x", got[:6])
	}
	if !bytes.Contains(got, append([]byte{'\n'}, raster...)) {
		t.Error("raster block not preceded by a newline")
	}
	if !bytes.HasSuffix(got, []byte{0xFF, '\n', '\n', '\n', 0x1D, 0x56, 0x00}) {
		t.Errorf("Frame() suffix = % x", got[len(got)-7:])
	}
}

func TestFrameEmptyRasterIgnored(t *testing.T) {
	if !bytes.Equal(Frame("x", []byte{}), Frame("x", nil)) {
		t.Error("empty raster should be treated as no image")
	}
}

func TestFrameReplacesInvalidUTF8(t *testing.T) {
	got := Frame("caf\xe9", nil)
	if !bytes.Contains(got, []byte("caf?")) {
		t.Errorf("Frame() = %q, want invalid byte replaced with '?'", got)
	}
}

func TestFrameKeepsUnicode(t *testing.T) {
	got := Frame("naïve ☕", nil)
	if !bytes.Contains(got, []byte("naïve ☕")) {
		t.Errorf("Frame() = %q, want UTF-8 preserved", got)
	}
}

func TestRasterHeader(t *testing.T) {
	got := RasterHeader(48, 300)
	want := []byte{0x1D, 0x76, 0x30, 0x00, 48, 0, 0x2C, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("RasterHeader() = % x, want % x", got, want)
	}
}

func TestRasterHeaderMaxHeight(t *testing.T) {
	got := RasterHeader(1, MaxRasterHeight)
	if got[6] != 0xFF || got[7] != 0xFF {
		t.Errorf("RasterHeader(1, MaxRasterHeight) height = % x, want ff ff", got[6:])
	}
}

func TestDocumentStyling(t *testing.T) {
	d := NewDocument().
		SetAlign(AlignCenter).
		SetFontSize(FontDouble).
		SetBold(true).
		Text("TICKET").
		SetBold(false).
		FeedLines(2).
		Cut()

	want := []byte{
		0x1B, 0x40,
		0x1B, 'a', 1,
		0x1D, '!', 0x11,
		0x1B, 'E', 1,
		'T', 'I', 'C', 'K', 'E', 'T', '\n',
		0x1B, 'E', 0,
		'\n', '\n',
		0x1D, 'V', 0,
	}
	if !bytes.Equal(d.Bytes(), want) {
		t.Errorf("Bytes() = % x\nwant % x", d.Bytes(), want)
	}
}
