// Package upload streams a fitted raster to the panel controller in memory-sized strips.
package upload

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koios/inkboard/internal/device"
	"github.com/koios/inkboard/internal/raster"
)

// Device is the subset of the controller protocol an upload needs.
type Device interface {
	Info(ctx context.Context) (device.Info, error)
	FreeMemory(ctx context.Context) (uint32, error)
	Draw(ctx context.Context, req device.DrawRequest) error
}

// Rect is a target region in panel pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// PreviewFunc receives the final raster before any strip is sent.
type PreviewFunc func(img *image.Gray, format raster.Format) error

// Request describes one upload.
type Request struct {
	X int
	Y int
	// Width and Height of zero take the rest of the panel from the offset.
	Width  int
	Height int

	// Mono dithers to pure black and white; required for Mono1.
	Mono   bool
	Format raster.Format
	// Clear wipes the canvas with the first strip.
	Clear bool

	// MaxUsage overrides the uploader's share of free memory per strip when non-zero.
	MaxUsage float64
	// RequeryFreeMemory re-reads free memory before every strip after the first.
	RequeryFreeMemory bool
	Rotate180         bool

	Preview PreviewFunc
}

// Result summarizes a completed upload.
type Result struct {
	UploadID  string        `json:"upload_id"`
	Rect      Rect          `json:"rect"`
	Format    string        `json:"format"`
	PatchRows int           `json:"patch_rows"`
	Patches   int           `json:"patches"`
	Bytes     int           `json:"bytes"`
	Duration  time.Duration `json:"duration"`
}

// Uploader fits, packs and streams images to one device. It holds no per-upload state and
// is safe for concurrent use, although the device itself accepts one upload at a time.
type Uploader struct {
	dev      Device
	logger   *zap.Logger
	maxUsage float64
	requery  bool
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithMaxUsage sets the default share of free memory per strip.
func WithMaxUsage(f float64) Option {
	return func(u *Uploader) { u.maxUsage = f }
}

// WithRequeryFreeMemory makes per-strip free memory queries the default.
func WithRequeryFreeMemory(enabled bool) Option {
	return func(u *Uploader) { u.requery = enabled }
}

// New creates an uploader for dev.
func New(dev Device, logger *zap.Logger, opts ...Option) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &Uploader{dev: dev, logger: logger, maxUsage: DefaultMaxUsage}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload draws img into the requested region. Validation and memory failures happen before
// any draw; a strip failure returns a *PatchError and leaves earlier strips on the panel.
func (u *Uploader) Upload(ctx context.Context, img image.Image, req Request) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	logger := u.logger.With(zap.String("upload_id", id))

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	maxUsage := req.MaxUsage
	if maxUsage == 0 {
		maxUsage = u.maxUsage
	}
	requery := req.RequeryFreeMemory || u.requery

	info, err := u.dev.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read device info: %w", err)
	}
	rect, err := resolveRect(req, info)
	if err != nil {
		return nil, err
	}

	free, err := u.dev.FreeMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read device free memory: %w", err)
	}
	rows, err := PatchHeight(free, maxUsage, rect.W, rect.H, req.Format)
	if err != nil {
		return nil, err
	}

	logger.Info("Starting upload",
		zap.Stringer("rect", rect),
		zap.Stringer("format", req.Format),
		zap.Bool("mono", req.Mono),
		zap.Uint32("free_bytes", free),
		zap.Int("patch_rows", rows))

	fitted, err := raster.Fit(img, raster.Dim{Width: rect.W, Height: rect.H}, raster.WithRotate180(req.Rotate180))
	if err != nil {
		return nil, fmt.Errorf("failed to fit image: %w", err)
	}
	if req.Mono {
		fitted = raster.DitherBinary(fitted)
	}
	if req.Preview != nil {
		if err := req.Preview(fitted, req.Format); err != nil {
			return nil, fmt.Errorf("failed to write preview: %w", err)
		}
	}

	var strips []Strip
	if !requery {
		strips = Strips(rect.H, rows)
		if err := CheckEvenRows(strips); err != nil {
			return nil, err
		}
	}

	res := &Result{UploadID: id, Rect: rect, Format: req.Format.String(), PatchRows: rows}
	for i, y := 0, 0; y < rect.H; i++ {
		var s Strip
		if requery {
			if i > 0 {
				if rows, err = u.requeryRows(ctx, maxUsage, rect.W, rect.H-y, req.Format); err != nil {
					return nil, &PatchError{Index: i, Y: y, Height: 0, Err: err}
				}
			}
			s = Strip{Index: i, Y: y, Height: min(rows, rect.H-y)}
			if err := checkStrip(s, y+s.Height >= rect.H); err != nil {
				return nil, err
			}
		} else {
			s = strips[i]
		}

		if err := ctx.Err(); err != nil {
			return nil, &PatchError{Index: s.Index, Y: s.Y, Height: s.Height, Err: err}
		}
		n, err := u.drawStrip(ctx, fitted, rect, s, req)
		if err != nil {
			logger.Error("Patch failed",
				zap.Int("patch", s.Index),
				zap.Int("y", s.Y),
				zap.Int("rows", s.Height),
				zap.Error(err))
			return nil, &PatchError{Index: s.Index, Y: s.Y, Height: s.Height, Err: err}
		}
		logger.Debug("Patch sent",
			zap.Int("patch", s.Index),
			zap.Int("y", rect.Y+s.Y),
			zap.Int("rows", s.Height),
			zap.Int("bytes", n))

		res.Patches++
		res.Bytes += n
		y += s.Height
	}

	res.Duration = time.Since(start)
	logger.Info("Upload complete",
		zap.Int("patches", res.Patches),
		zap.Int("bytes", res.Bytes),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (u *Uploader) requeryRows(ctx context.Context, maxUsage float64, width, remaining int, format raster.Format) (int, error) {
	free, err := u.dev.FreeMemory(ctx)
	if err != nil {
		return 0, err
	}
	return PatchHeight(free, maxUsage, width, remaining, format)
}

func (u *Uploader) drawStrip(ctx context.Context, img *image.Gray, rect Rect, s Strip, req Request) (int, error) {
	samples, err := raster.Rows(img, s.Y, s.Y+s.Height)
	if err != nil {
		return 0, err
	}
	payload := raster.Pack(samples, req.Format)
	err = u.dev.Draw(ctx, device.DrawRequest{
		X:       rect.X,
		Y:       rect.Y + s.Y,
		Width:   rect.W,
		Height:  s.Height,
		Clear:   req.Clear && s.Index == 0,
		Mono:    req.Format == raster.Mono1,
		Payload: payload,
	})
	return len(payload), err
}

func validateRequest(req Request) error {
	switch {
	case req.X < 0:
		return &ValidationError{Field: "x", Reason: fmt.Sprintf("must be non-negative, got %d", req.X)}
	case req.Y < 0:
		return &ValidationError{Field: "y", Reason: fmt.Sprintf("must be non-negative, got %d", req.Y)}
	case req.Width < 0:
		return &ValidationError{Field: "width", Reason: fmt.Sprintf("must be non-negative, got %d", req.Width)}
	case req.Height < 0:
		return &ValidationError{Field: "height", Reason: fmt.Sprintf("must be non-negative, got %d", req.Height)}
	case req.Format != raster.Gray4 && req.Format != raster.Mono1:
		return &ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported %s", req.Format)}
	case req.Format == raster.Mono1 && !req.Mono:
		return &ValidationError{Field: "format", Reason: "8ppB requires monochrome mode"}
	case req.MaxUsage < 0 || req.MaxUsage > 1:
		return &ValidationError{Field: "max_usage", Reason: fmt.Sprintf("must be in (0, 1], got %v", req.MaxUsage)}
	}
	return nil
}

func resolveRect(req Request, info device.Info) (Rect, error) {
	pw, ph := int(info.Width), int(info.Height)
	r := Rect{X: req.X, Y: req.Y, W: req.Width, H: req.Height}
	if r.W == 0 {
		r.W = pw - r.X
	}
	if r.H == 0 {
		r.H = ph - r.Y
	}
	if r.W <= 0 || r.H <= 0 {
		return r, &ValidationError{Field: "rect", Reason: fmt.Sprintf("offset (%d,%d) leaves no area on a %dx%d panel", r.X, r.Y, pw, ph)}
	}
	if r.X+r.W > pw || r.Y+r.H > ph {
		return r, &ValidationError{Field: "rect", Reason: fmt.Sprintf("%s exceeds the %dx%d panel", r, pw, ph)}
	}
	return r, nil
}
