package raster

import "image"

// DitherBinary reduces src to black and white with Floyd-Steinberg error diffusion.
// Samples in the result are exactly 0 or 255. The scan is plain left to right, so the
// output is byte-for-byte reproducible for a given input.
func DitherBinary(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	// Two rows of accumulated error, padded by one column on each side.
	cur := make([]int, w+2)
	next := make([]int, w+2)

	for y := 0; y < h; y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		srcRow := src.Pix[off : off+w]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+w]

		for x := 0; x < w; x++ {
			v := int(srcRow[x]) + cur[x+1]
			out := 0
			if v > 127 {
				out = 255
			}
			dstRow[x] = uint8(out)

			e := v - out
			cur[x+2] += e * 7 / 16
			next[x] += e * 3 / 16
			next[x+1] += e * 5 / 16
			next[x+2] += e * 1 / 16
		}

		cur, next = next, cur
		for i := range next {
			next[i] = 0
		}
	}
	return dst
}

// IsBinary reports whether every sample is 0 or 255.
func IsBinary(img *image.Gray) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		for _, v := range img.Pix[off : off+b.Dx()] {
			if v != 0 && v != 255 {
				return false
			}
		}
	}
	return true
}
