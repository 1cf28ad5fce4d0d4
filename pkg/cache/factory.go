package cache

import (
	"github.com/caarmen/image-resizer/pkg/logging"
	"go.uber.org/zap"
)

// NewIndex creates the appropriate index for resized images.
// If path is set, uses the sqlite index so entries survive restarts and are shared between processes.
// Otherwise uses an in-memory index (caching disabled).
func NewIndex(path string) (Index, error) {
	if path != "" {
		index, err := NewSQLiteIndex(path)
		if err != nil {
			return nil, err
		}
		logging.Logger.Info("Initialized sqlite cache index",
			zap.String("path", path))
		return index, nil
	}

	logging.Logger.Info("Initialized in-memory cache index")
	return NewMemoryIndex(), nil
}
