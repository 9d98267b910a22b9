package raster

import (
	"fmt"
	"image"
)

const (
	// DefaultThreshold is the Mono1 cut-off: samples at or below it become black (bit set).
	DefaultThreshold uint8 = 128

	// White is the sample value used to pad incomplete byte groups.
	White uint8 = 255
)

// PackGray4 quantizes each sample to 4 bits (v/17) and packs consecutive pairs into one byte,
// first sample in the high nibble. A trailing unpaired sample is dropped.
func PackGray4(samples []uint8) []byte {
	out := make([]byte, len(samples)/2)
	for i := range out {
		a := samples[2*i] / 17
		b := samples[2*i+1] / 17
		out[i] = a<<4 | b
	}
	return out
}

// PackMono1 packs each group of eight samples into one byte, first sample in the most significant
// bit. A bit is set when the sample is <= threshold (black). A trailing partial group is dropped.
func PackMono1(samples []uint8, threshold uint8) []byte {
	out := make([]byte, len(samples)/8)
	for i := range out {
		var b byte
		for j, v := range samples[8*i : 8*i+8] {
			if v <= threshold {
				b |= 0x80 >> uint(j)
			}
		}
		out[i] = b
	}
	return out
}

// Pack encodes samples in format f, padding an incomplete final group with white first.
func Pack(samples []uint8, f Format) []byte {
	samples = PadSamples(samples, f)
	if f == Mono1 {
		return PackMono1(samples, DefaultThreshold)
	}
	return PackGray4(samples)
}

// PadSamples returns samples extended with white to a multiple of the format's pixels per byte.
// The input is returned unchanged when no padding is needed.
func PadSamples(samples []uint8, f Format) []uint8 {
	ppb := f.PixelsPerByte()
	rem := len(samples) % ppb
	if rem == 0 {
		return samples
	}
	padded := make([]uint8, len(samples), len(samples)+ppb-rem)
	copy(padded, samples)
	for i := 0; i < ppb-rem; i++ {
		padded = append(padded, White)
	}
	return padded
}

// UnpackGray4 expands a Gray4 payload back to 8-bit samples (nibble*17).
func UnpackGray4(packed []byte) []uint8 {
	out := make([]uint8, 0, len(packed)*2)
	for _, b := range packed {
		out = append(out, (b>>4)*17, (b&0x0F)*17)
	}
	return out
}

// UnpackMono1 expands a Mono1 payload back to 8-bit samples (set bit is black).
func UnpackMono1(packed []byte) []uint8 {
	out := make([]uint8, 0, len(packed)*8)
	for _, b := range packed {
		for j := 0; j < 8; j++ {
			if b&(0x80>>uint(j)) != 0 {
				out = append(out, 0)
			} else {
				out = append(out, White)
			}
		}
	}
	return out
}

// Rows returns a row-major copy of rows [y0, y1) of img, relative to its bounds.
func Rows(img *image.Gray, y0, y1 int) ([]uint8, error) {
	b := img.Bounds()
	if y0 < 0 || y1 > b.Dy() || y0 >= y1 {
		return nil, fmt.Errorf("row range [%d, %d) outside image height %d", y0, y1, b.Dy())
	}
	w := b.Dx()
	out := make([]uint8, 0, w*(y1-y0))
	for y := y0; y < y1; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		out = append(out, img.Pix[off:off+w]...)
	}
	return out, nil
}

// Preview renders img the way the panel will show it in format f.
func Preview(img *image.Gray, f Format) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if b.Empty() {
		return dst
	}
	samples, _ := Rows(img, 0, b.Dy())
	n := len(samples)
	var shown []uint8
	if f == Mono1 {
		shown = UnpackMono1(Pack(samples, f))
	} else {
		shown = UnpackGray4(Pack(samples, f))
	}
	copy(dst.Pix, shown[:n])
	return dst
}
