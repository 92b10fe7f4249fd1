package imageproc

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/lavka/receiptproof/internal/domain"
)

const (
	// minDimension rejects thumbnails and accidental taps; anything smaller
	// carries too few pixels for recognition.
	minDimension = 150
	// maxDimension bounds OCR cost on multi-megapixel camera uploads.
	maxDimension = 2400
	// upscaleHeight: low-resolution receipts recognize noticeably better
	// after upscaling to ~1200px height.
	upscaleBelow  = 800
	upscaleHeight = 1200
)

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
}

// NormalizedImage is the output of Normalize: orientation-corrected,
// grayscale, sharpened PNG bytes plus a deterministic content hash used for
// duplicate-proof fingerprinting.
type NormalizedImage struct {
	Bytes  []byte
	Hash   string
	Format string
	Width  int
	Height int
}

// Normalize validates and normalizes an uploaded receipt image. Pure
// function of its input: same bytes in, same hash out.
func Normalize(data []byte) (*NormalizedImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", domain.ErrInvalidImage)
	}
	if !supportedFormats[format] {
		return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidImage, format)
	}
	if cfg.Width < minDimension || cfg.Height < minDimension {
		return nil, fmt.Errorf("%w: %dx%d below %dpx floor",
			domain.ErrInvalidImage, cfg.Width, cfg.Height, minDimension)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode failed", domain.ErrInvalidImage)
	}

	img = imaging.Grayscale(img)
	img = imaging.Sharpen(img, 1.0)

	b := img.Bounds()
	switch {
	case b.Dx() > maxDimension || b.Dy() > maxDimension:
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	case b.Dy() < upscaleBelow:
		img = imaging.Resize(img, 0, upscaleHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode normalized image: %w", err)
	}

	out := buf.Bytes()
	b = img.Bounds()
	return &NormalizedImage{
		Bytes:  out,
		Hash:   fmt.Sprintf("%x", sha256.Sum256(out)),
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}
