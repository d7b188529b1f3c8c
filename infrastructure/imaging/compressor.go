package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"

	"golang.org/x/image/draw"
)

const (
	MaxWidth  = 1000
	MaxHeight = 1000
	// MaxPixels bounds what Compress is willing to decode.
	MaxPixels = 50_000_000
)

// ErrTooManyPixels is returned for images whose declared dimensions exceed MaxPixels.
var ErrTooManyPixels = errors.New("image dimensions exceed the decode limit")

type compressor struct {
	maxW, maxH int
	maxPixels  int
	quality    int
}

// NewCompressor scales JPEG images down to fit MaxWidth x MaxHeight and re-encodes them.
func NewCompressor() repository.IMediaCompressor {
	return &compressor{maxW: MaxWidth, maxH: MaxHeight, maxPixels: MaxPixels, quality: 80}
}

func (c *compressor) Compress(ctx context.Context, f *model.PendingFile) (*model.ConvertedFile, error) {
	data, err := readAll(f)
	if err != nil {
		return nil, err
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", f.Name, err)
	}
	if cfg.Width*cfg.Height > c.maxPixels {
		return nil, fmt.Errorf("%q is %dx%d: %w", f.Name, cfg.Width, cfg.Height, ErrTooManyPixels)
	}
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", f.Name, err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), c.maxW, c.maxH)
	var img image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode %q: %w", f.Name, err)
	}
	return &model.ConvertedFile{Name: f.Name, Type: "image/jpeg", Data: buf.Bytes()}, nil
}

// fit keeps the aspect ratio and never upscales.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}
