package attachments

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Compressed is a re-encoded JPEG and its dimensions.
type Compressed struct {
	Data   []byte
	Width  int
	Height int
}

// Compress decodes an image, shrinks it so the longer side is at most
// maxDimension, and re-encodes it as JPEG at quality (1-100).
// Images already within bounds keep their size but are still re-encoded.
// Images declaring more than maxPixels pixels are rejected before decoding
// with ErrImageTooLarge; maxPixels <= 0 disables the check.
func Compress(data []byte, maxDimension, quality, maxPixels int) (Compressed, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Compressed{}, fmt.Errorf("decode image header: %w", err)
	}
	if maxPixels > 0 && (cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels)) {
		return Compressed{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Compressed{}, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten onto white.
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return Compressed{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Compressed{Data: buf.Bytes(), Width: w, Height: h}, nil
}

// fit scales w x h down so neither side exceeds limit, preserving aspect ratio.
func fit(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		nh := int(math.Round(float64(h) * float64(limit) / float64(w)))
		return limit, atLeastOne(nh)
	}
	nw := int(math.Round(float64(w) * float64(limit) / float64(h)))
	return atLeastOne(nw), limit
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return DefaultQuality
	case q > 100:
		return 100
	}
	return q
}
