package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/koios/inkboard/internal/dashboard"
	"github.com/koios/inkboard/internal/handlers"
	"github.com/koios/inkboard/internal/homeassistant"
	"github.com/koios/inkboard/internal/pixlet"
	"github.com/koios/inkboard/internal/redis"
	"github.com/koios/inkboard/internal/sunsethue"
	"github.com/koios/inkboard/internal/upload"
	"github.com/koios/inkboard/pkg/models"
)

// serve runs the dashboard daemon until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	layout, err := models.LoadLayout(cfg.Dashboard.LayoutPath)
	if err != nil {
		return err
	}
	if cfg.Dashboard.Timezone != "" {
		layout.Locale.Timezone = cfg.Dashboard.Timezone
		if err := layout.Validate(); err != nil {
			return err
		}
	}

	dev, err := a.device()
	if err != nil {
		return err
	}

	redisClient, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	logger.Info("Initializing Pixlet renderer with Redis cache",
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Int("redis_db", cfg.Redis.DB))
	renderer, err := pixlet.NewRenderer(&cfg.Pixlet, pixlet.NewRedisCache(&cfg.Redis), logger)
	if err != nil {
		return err
	}
	defer renderer.Close()

	pool := pixlet.NewWorkerPool(cfg.Pixlet.Workers, renderer, logger)
	pool.Start()
	defer pool.Stop()

	opts := []dashboard.Option{
		dashboard.WithPanel(dev),
		dashboard.WithPublisher(redisClient),
		dashboard.WithClearAtStart(cfg.Device.ClearAtStart),
		dashboard.WithRotate180(cfg.Device.Rotate180),
	}
	if cfg.HomeAssistant.Token != "" {
		ha, err := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token,
			homeassistant.WithLogger(logger))
		if err != nil {
			return err
		}
		opts = append(opts, dashboard.WithHomeAssistant(ha))
	} else {
		logger.Warn("HA_TOKEN not set, entity states come from the event stream only")
	}
	if cfg.SunsetHue.APIKey != "" {
		opts = append(opts, dashboard.WithForecaster(sunsethue.NewClient(
			cfg.SunsetHue.APIKey, cfg.SunsetHue.Latitude, cfg.SunsetHue.Longitude,
			sunsethue.WithLogger(logger))))
	}

	uploader := upload.New(dev, logger,
		upload.WithMaxUsage(cfg.Device.MaxUsage),
		upload.WithRequeryFreeMemory(cfg.Device.RequeryFree))
	dash := dashboard.New(layout, pool, uploader, logger, opts...)

	// Create HTTP server for the management API
	mux := http.NewServeMux()
	appHandler := handlers.NewAppHandler(renderer, dash, dev, redisClient, logger)
	appHandler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	if err := dash.Start(runCtx); err != nil {
		return err
	}

	consumer := redis.NewConsumer(redisClient, handlers.NewEventHandler(dash, logger), logger)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(); err != nil {
			logger.Error("Redis consumer failed", zap.Error(err))
		}
	}()

	logger.Info("Dashboard daemon started",
		zap.Int("port", cfg.Server.Port),
		zap.String("device", dev.BaseURL()),
		zap.String("layout", cfg.Dashboard.LayoutPath),
		zap.String("apps_path", cfg.Pixlet.AppsPath))

	<-runCtx.Done()
	logger.Info("Shutting down...")

	// Give outstanding requests a deadline for completion
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	consumer.Stop()
	dash.Stop()

	select {
	case <-consumerDone:
		logger.Info("Shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded")
	}
	return nil
}
