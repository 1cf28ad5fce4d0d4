package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/caarmen/image-resizer/pkg/logging"
)

// SweepResult summarizes one sweep
type SweepResult struct {
	Selected       int
	RecordsDeleted int
	FilesDeleted   int
	FilesMissing   int
	FileErrors     int
}

// Sweeper evicts records older than a maximum age, along with their files
type Sweeper struct {
	index Index
	lock  Locker
	now   func() time.Time
}

// NewSweeper creates a sweeper sharing the engine's index and lock
func NewSweeper(index Index, lock Locker) *Sweeper {
	return &Sweeper{
		index: index,
		lock:  lock,
		now:   time.Now,
	}
}

// Sweep deletes every record written at or before now - maxAge.
// Files that cannot be deleted are logged and counted; their records are removed anyway.
func (s *Sweeper) Sweep(ctx context.Context, maxAge time.Duration) (SweepResult, error) {
	var result SweepResult

	err := s.lock.WithLock(func() error {
		cutoff := s.now().Add(-maxAge)
		logging.Logger.Info("Sweeping cached images",
			zap.Time("written_before", cutoff))

		records, err := s.index.SelectOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		result.Selected = len(records)
		if len(records) == 0 {
			return nil
		}

		for _, rec := range records {
			err := os.Remove(rec.FilePath)
			switch {
			case err == nil:
				result.FilesDeleted++
				logging.Logger.Debug("Deleted cached file",
					zap.String("key", rec.Key.String()),
					zap.String("file", rec.FilePath))
			case errors.Is(err, os.ErrNotExist):
				result.FilesMissing++
				logging.Logger.Debug("Cached file was already deleted",
					zap.String("key", rec.Key.String()),
					zap.String("file", rec.FilePath))
			default:
				result.FileErrors++
				logging.Logger.Warn("Failed to delete cached file",
					zap.String("file", rec.FilePath),
					zap.Error(err))
			}
		}

		deleted, err := s.index.Delete(ctx, records)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
		result.RecordsDeleted = deleted
		return nil
	})
	if err != nil {
		return result, err
	}

	logging.Logger.Info("Sweep complete",
		zap.Int("selected", result.Selected),
		zap.Int("records_deleted", result.RecordsDeleted),
		zap.Int("files_deleted", result.FilesDeleted),
		zap.Int("files_missing", result.FilesMissing),
		zap.Int("file_errors", result.FileErrors))
	return result, nil
}

// Run sweeps once immediately, then every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval, maxAge time.Duration) {
	logging.Logger.Info("Starting cache sweeper",
		zap.Duration("interval", interval),
		zap.Duration("max_age", maxAge))

	s.sweepSafely(ctx, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Logger.Info("Cache sweeper stopped")
			return
		case <-ticker.C:
			s.sweepSafely(ctx, maxAge)
		}
	}
}

func (s *Sweeper) sweepSafely(ctx context.Context, maxAge time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger.Error("Cache sweep panicked", zap.Any("panic", r))
		}
	}()

	if _, err := s.Sweep(ctx, maxAge); err != nil {
		logging.Logger.Error("Cache sweep failed", zap.Error(err))
	}
}
