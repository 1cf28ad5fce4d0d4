// Command purge deletes cached images older than a maximum age, once.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/caarmen/image-resizer/pkg/cache"
	"github.com/caarmen/image-resizer/pkg/config"
	"github.com/caarmen/image-resizer/pkg/logging"
)

func main() {
	var configPath string
	var maxAge int
	flag.StringVar(&configPath, "config-path", "", "Path to configuration file (optional)")
	flag.IntVar(&maxAge, "max-age", config.DefaultValiditySeconds, "max age in seconds to keep in the cache")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Logger.Sync() }()

	if !cfg.CacheEnabled() {
		logging.Logger.Info("Caching is disabled, nothing to purge")
		return
	}

	index, err := cache.NewIndex(cfg.IndexPath())
	if err != nil {
		logging.Logger.Fatal("Failed to open cache index", zap.Error(err))
	}
	defer index.Close()

	sweeper := cache.NewSweeper(index, cache.NewFileLock(cfg.LockPath()))
	result, err := sweeper.Sweep(context.Background(), time.Duration(maxAge)*time.Second)
	if err != nil {
		logging.Logger.Fatal("Purge failed", zap.Error(err))
	}
	logging.Logger.Info("Purge complete",
		zap.Int("records_deleted", result.RecordsDeleted),
		zap.Int("file_errors", result.FileErrors))
}
