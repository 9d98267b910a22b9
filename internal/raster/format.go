// Package raster prepares 8-bit grayscale rasters for the panel controller: fitting a source
// image into an exact pixel rectangle, Floyd-Steinberg reduction to black and white, and
// packing samples into the controller's 4-bit or 1-bit framebuffer encodings.
package raster

import (
	"fmt"
	"strings"
)

// Format is a wire encoding understood by the controller's draw routine.
type Format int

const (
	// Gray4 packs two 4-bit pixels per byte, high nibble first ("2ppB").
	Gray4 Format = iota
	// Mono1 packs eight 1-bit pixels per byte, most significant bit first ("8ppB").
	Mono1
)

// PixelsPerByte returns how many pixels one payload byte carries.
func (f Format) PixelsPerByte() int {
	if f == Mono1 {
		return 8
	}
	return 2
}

// BytesPerPixel returns the payload cost of one pixel (0.5 or 0.125).
func (f Format) BytesPerPixel() float64 {
	return 1 / float64(f.PixelsPerByte())
}

// String returns the CLI name of the format.
func (f Format) String() string {
	switch f {
	case Gray4:
		return "2ppB"
	case Mono1:
		return "8ppB"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat accepts "2ppB" or "8ppB" (case-insensitive). Empty means Gray4.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "2ppb":
		return Gray4, nil
	case "8ppb":
		return Mono1, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q (want 2ppB or 8ppB)", s)
	}
}

// PackedLen returns the payload size for n samples, counting a padded final group.
func (f Format) PackedLen(n int) int {
	ppb := f.PixelsPerByte()
	return (n + ppb - 1) / ppb
}
