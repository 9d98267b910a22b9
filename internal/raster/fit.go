package raster

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
)

// Dim is a pixel size.
type Dim struct {
	Width  int
	Height int
}

func (d Dim) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

type fitOptions struct {
	rotate180 bool
}

// FitOption tunes Fit.
type FitOption func(*fitOptions)

// WithRotate180 turns the image upside down before cropping, for panels mounted inverted.
func WithRotate180(enabled bool) FitOption {
	return func(o *fitOptions) { o.rotate180 = enabled }
}

// Fit converts src to grayscale, center-crops it to the aspect ratio of target and resamples
// the crop with a Lanczos filter. The result is always exactly target in size.
func Fit(src image.Image, target Dim, opts ...FitOption) (*image.Gray, error) {
	if target.Width <= 0 || target.Height <= 0 {
		return nil, fmt.Errorf("invalid fit target %s", target)
	}
	if src == nil || src.Bounds().Empty() {
		return nil, errors.New("source image is empty")
	}
	var o fitOptions
	for _, opt := range opts {
		opt(&o)
	}

	filters := []gift.Filter{gift.Grayscale()}
	if o.rotate180 {
		filters = append(filters, gift.Rotate180())
	}
	g := gift.New(filters...)
	gray := image.NewGray(g.Bounds(src.Bounds()))
	g.Draw(gray, src)

	cw, ch := cropSize(gray.Bounds().Dx(), gray.Bounds().Dy(), target)
	cropped := imaging.CropCenter(gray, cw, ch)
	resized := imaging.Resize(cropped, target.Width, target.Height, imaging.Lanczos)
	return grayFromNRGBA(resized), nil
}

// cropSize returns the largest box of the target aspect ratio that fits in w×h.
func cropSize(w, h int, target Dim) (int, int) {
	r := float64(target.Width) / float64(target.Height)
	cw, ch := w, h
	if float64(w)/float64(h) > r {
		cw = int(r * float64(h))
	} else {
		ch = int(float64(w) / r)
	}
	return clamp(cw, 1, w), clamp(ch, 1, h)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// grayFromNRGBA copies the red channel; the input is already gray and opaque.
func grayFromNRGBA(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srcRow := src.Pix[y*src.Stride:]
		dstRow := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dstRow[x] = srcRow[x*4]
		}
	}
	return dst
}
