package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/koios/inkboard/internal/raster"
	"github.com/koios/inkboard/internal/upload"
)

type drawOptions struct {
	path       string
	mono       bool
	format     string
	x, y       int
	width      int
	height     int
	clear      bool
	preview    bool
	previewOut string
	maxUsage   float64
	requery    bool
	rotate180  bool
}

// parseDrawArgs accepts flags before and after the image path.
func parseDrawArgs(args []string, defaults drawOptions, stderr io.Writer) (drawOptions, error) {
	opts := defaults
	fs := flag.NewFlagSet("draw", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.mono, "mono", opts.mono, "dither to black and white")
	fs.StringVar(&opts.format, "format", opts.format, "wire format: 2ppB or 8ppB")
	fs.IntVar(&opts.x, "x", opts.x, "left edge in panel pixels")
	fs.IntVar(&opts.y, "y", opts.y, "top edge in panel pixels")
	fs.IntVar(&opts.width, "width", opts.width, "region width, 0 for the rest of the panel")
	fs.IntVar(&opts.height, "height", opts.height, "region height, 0 for the rest of the panel")
	fs.BoolVar(&opts.clear, "clear", opts.clear, "clear the panel with the first strip")
	fs.BoolVar(&opts.preview, "preview", opts.preview, "write the final raster as PNG before uploading")
	fs.StringVar(&opts.previewOut, "preview-out", opts.previewOut, "preview PNG path")
	fs.Float64Var(&opts.maxUsage, "max-usage", opts.maxUsage, "share of free device memory per strip, in (0, 1]")
	fs.BoolVar(&opts.requery, "requery-free", opts.requery, "re-read free memory before every strip")
	fs.BoolVar(&opts.rotate180, "rotate180", opts.rotate180, "rotate the image by 180 degrees")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() == 0 {
		return opts, errors.New("draw: image path required")
	}
	opts.path = fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("draw: unexpected arguments %v", fs.Args())
	}
	return opts, nil
}

// pixelFormat defaults to 2ppB regardless of -mono.
func (o drawOptions) pixelFormat() (raster.Format, error) {
	return raster.ParseFormat(o.format)
}

func (o drawOptions) request() (upload.Request, error) {
	format, err := o.pixelFormat()
	if err != nil {
		return upload.Request{}, err
	}
	req := upload.Request{
		X:                 o.x,
		Y:                 o.y,
		Width:             o.width,
		Height:            o.height,
		Mono:              o.mono,
		Format:            format,
		Clear:             o.clear,
		MaxUsage:          o.maxUsage,
		RequeryFreeMemory: o.requery,
		Rotate180:         o.rotate180,
	}
	if o.preview {
		out := o.previewOut
		req.Preview = func(img *image.Gray, f raster.Format) error {
			if err := imaging.Save(raster.Preview(img, f), out); err != nil {
				return fmt.Errorf("failed to write preview: %w", err)
			}
			return nil
		}
	}
	return req, nil
}

func (a *app) draw(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseDrawArgs(args, drawOptions{
		previewOut: "preview.png",
		maxUsage:   a.cfg.Device.MaxUsage,
		requery:    a.cfg.Device.RequeryFree,
		rotate180:  a.cfg.Device.Rotate180,
	}, stderr)
	if err != nil {
		return err
	}
	req, err := opts.request()
	if err != nil {
		return err
	}

	img, err := imaging.Open(opts.path, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}

	dev, err := a.device()
	if err != nil {
		return err
	}
	uploader := upload.New(dev, a.logger,
		upload.WithMaxUsage(a.cfg.Device.MaxUsage),
		upload.WithRequeryFreeMemory(a.cfg.Device.RequeryFree))

	result, err := uploader.Upload(ctx, img, req)
	if err != nil {
		return err
	}
	if opts.preview {
		a.logger.Info("Preview written", zap.String("path", opts.previewOut))
	}
	fmt.Fprintf(a.stdout, "drew %s %s in %d patches of %d rows (%d bytes, %s)\n",
		result.Rect, result.Format, result.Patches, result.PatchRows, result.Bytes, result.Duration.Round(time.Millisecond))
	return nil
}
