package raster

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	// Decoders for uploaded images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrImageDecode is returned for input that is not a decodable image or
// that exceeds the pixel budget.
var ErrImageDecode = errors.New("raster: image decode failed")

// DefaultMaxPixels bounds the decoded size of an uploaded image. A decoded
// image costs about 4 bytes per pixel, several times over while converting.
const DefaultMaxPixels = 8_000_000

// DecodeBase64 decodes a base64 image within DefaultMaxPixels.
func DecodeBase64(s string) (image.Image, error) {
	return DecodeBase64Limit(s, DefaultMaxPixels)
}

// DecodeBase64Limit decodes a base64 image, with or without a data URL
// prefix such as "data:image/png;base64,". Images whose header declares more
// than maxPixels pixels are rejected before their pixels are decoded.
// maxPixels <= 0 disables the limit.
func DecodeBase64Limit(s string, maxPixels int) (image.Image, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrImageDecode)
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrImageDecode, err)
		}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrImageDecode, format)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s image is %dx%d, over the %d pixel limit",
			ErrImageDecode, format, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrImageDecode, format)
	}
	return img, nil
}
