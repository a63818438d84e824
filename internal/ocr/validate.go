// Package ocr is the boundary to the external text extraction engine.
package ocr

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	pkgerrors "fraudwatch/pkg/errors"
)

type Limits struct {
	MaxBytes       int64
	MaxWidth       int
	MaxHeight      int
	AllowedFormats []string
}

type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// Validate checks size, format and dimensions without decoding pixel data.
// Only the byte size is an oversized payload; an image too large in pixels
// is a validation error, so the event degrades to no text.
func Validate(data []byte, limits Limits) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, pkgerrors.ErrEmptyContent.WithMessage("image payload is empty")
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return ImageInfo{}, oversized("image exceeds maximum size", len(data), limits.MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, pkgerrors.ErrValidation.WithMessage("unrecognized image format").WithCause(err)
	}

	info := ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}

	if len(limits.AllowedFormats) > 0 && !allowed(format, limits.AllowedFormats) {
		return info, pkgerrors.ErrValidation.
			WithMessage("image format not allowed").
			WithDetail("format", format)
	}

	if (limits.MaxWidth > 0 && cfg.Width > limits.MaxWidth) || (limits.MaxHeight > 0 && cfg.Height > limits.MaxHeight) {
		return info, pkgerrors.ErrValidation.
			WithMessage("image dimensions exceed limit").
			WithDetail("width", cfg.Width).
			WithDetail("height", cfg.Height)
	}

	return info, nil
}

func oversized(msg string, size int, limit int64) error {
	return pkgerrors.ErrOversized.
		WithMessage(msg).
		WithDetail("size", size).
		WithDetail("limit", limit)
}

func allowed(format string, formats []string) bool {
	for _, f := range formats {
		if strings.EqualFold(f, format) || (format == "jpeg" && strings.EqualFold(f, "jpg")) {
			return true
		}
	}
	return false
}
