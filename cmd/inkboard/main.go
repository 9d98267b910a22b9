package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/koios/inkboard/internal/config"
	"github.com/koios/inkboard/internal/device"
)

const usage = `usage: inkboard [-host H] [-timeout 5s] [-log-level info] <command> [flags]

commands:
  clear     wipe the panel
  info      print panel width, height and temperature
  free      print free controller memory in bytes
  draw      upload an image: draw <image> [flags]
  serve     run the dashboard daemon
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "inkboard: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	cfg     *config.Config
	timeout time.Duration
	logger  *zap.Logger
	stdout  io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fs := flag.NewFlagSet("inkboard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	host := fs.String("host", cfg.Device.Host, "device host or URL (INKBOARD_DEVICE_HOST)")
	timeout := fs.Duration("timeout", cfg.Device.DeviceTimeout(), "per-request device timeout")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("command required")
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg.Device.Host = *host
	a := &app{cfg: cfg, timeout: *timeout, logger: logger, stdout: stdout}

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "clear":
		return a.clear(ctx)
	case "info":
		return a.info(ctx)
	case "free":
		return a.free(ctx)
	case "draw":
		return a.draw(ctx, rest, stderr)
	case "serve":
		return a.serve(ctx)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func (a *app) device() (*device.Client, error) {
	return device.NewClient(a.cfg.Device.Host,
		device.WithTimeout(a.timeout),
		device.WithLogger(a.logger))
}

func (a *app) clear(ctx context.Context) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	if err := dev.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear panel: %w", err)
	}
	fmt.Fprintln(a.stdout, "cleared")
	return nil
}

func (a *app) info(ctx context.Context) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	info, err := dev.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read panel info: %w", err)
	}
	fmt.Fprintf(a.stdout, "width=%d height=%d temperature=%d\n", info.Width, info.Height, info.Temperature)
	return nil
}

func (a *app) free(ctx context.Context) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	free, err := dev.FreeMemory(ctx)
	if err != nil {
		return fmt.Errorf("failed to read free memory: %w", err)
	}
	fmt.Fprintln(a.stdout, free)
	return nil
}
