package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	internalMiddleware "github.com/caarmen/image-resizer/internal/middleware"
	"github.com/caarmen/image-resizer/internal/server"
	"github.com/caarmen/image-resizer/pkg/cache"
	"github.com/caarmen/image-resizer/pkg/config"
	"github.com/caarmen/image-resizer/pkg/fetch"
	"github.com/caarmen/image-resizer/pkg/imaging"
	"github.com/caarmen/image-resizer/pkg/logging"
)

// Set with -ldflags at build time
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Parse flags
	var configPath string
	flag.StringVar(&configPath, "config-path", "", "Path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	if err := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Logger.Sync() }()
	logging.Logger.Info("Structured logging initialized",
		zap.String("level", cfg.Logging.Level),
		zap.String("format", cfg.Logging.Format))

	index, err := cache.NewIndex(cfg.IndexPath())
	if err != nil {
		logging.Logger.Fatal("Failed to open cache index", zap.Error(err))
	}
	defer index.Close()
	lock := cache.NewFileLock(cfg.LockPath())

	codec := imaging.NewCodec(fallbackEncoder(cfg), imaging.WithMaxPixels(int64(cfg.Codec.MaxPixels)))

	policy, err := fetch.NewPolicy(cfg.Fetch.AllowedSchemes, cfg.Fetch.AllowedDomains, cfg.Fetch.DeniedDomains)
	if err != nil {
		logging.Logger.Fatal("Invalid fetch policy", zap.Error(err))
	}
	fetcher := fetch.New(fetch.Options{
		Timeout: cfg.FetchTimeout(),
		Policy:  policy,
	})

	engine := cache.NewEngine(index, lock, fetcher, codec, cache.EngineOptions{
		ImagesDir: cfg.ImagesDir(),
		Workers:   cfg.Server.WorkerCount,
	})
	logging.Logger.Info("Cache initialized",
		zap.Bool("persistent", cfg.CacheEnabled()),
		zap.String("images_dir", cfg.ImagesDir()),
		zap.Duration("validity", cfg.Validity()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := cache.NewSweeper(index, lock)
	go sweeper.Run(ctx, cfg.SweepInterval(), cfg.Validity())

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = server.NewValidator()

	e.Use(internalMiddleware.LoggerMiddleware())
	e.Use(internalMiddleware.RecoverMiddleware())
	e.Use(internalMiddleware.CORSMiddleware())

	instanceID := uuid.NewString()
	srv := server.New(e, engine, fetcher, instanceID, &server.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	})
	logging.Logger.Info("Server initialized", zap.String("instance_id", instanceID))

	go func() {
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// fallbackEncoder returns the ImageMagick encoder unless disabled, when a binary is installed
func fallbackEncoder(cfg *config.Config) imaging.Option {
	if !cfg.MagickEnabled() {
		return nil
	}
	magick, err := imaging.NewMagickEncoder()
	if err != nil {
		if cfg.MagickRequested() {
			logging.Logger.Warn("ImageMagick not available, webp and pdf output disabled", zap.Error(err))
		} else {
			logging.Logger.Info("ImageMagick not found, webp and pdf output disabled")
		}
		return nil
	}
	logging.Logger.Info("ImageMagick fallback encoder enabled")
	return imaging.WithFallbackEncoder(magick)
}
