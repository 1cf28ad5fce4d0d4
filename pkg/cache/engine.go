package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/caarmen/image-resizer/pkg/geometry"
	"github.com/caarmen/image-resizer/pkg/imaging"
	"github.com/caarmen/image-resizer/pkg/logging"
)

// Fetcher retrieves the bytes of a source image
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) ([]byte, error)
}

// Codec decodes, resizes and encodes images
type Codec interface {
	Decode(data []byte) (*imaging.Source, error)
	Resize(img *imaging.Image, crop *image.Rectangle, width, height int) *imaging.Image
	Supports(format imaging.Format) bool
	Encode(ctx context.Context, w io.Writer, img *imaging.Image, format imaging.Format) error
}

// EngineOptions configures an Engine
type EngineOptions struct {
	// ImagesDir receives the artifact files
	ImagesDir string
	// Workers bounds how many cache misses are admitted at once. Zero means 1.
	Workers int
	// Clock stamps index records. Defaults to time.Now.
	Clock func() time.Time
}

// Engine resolves cache keys to artifacts, regenerating them on a miss
type Engine struct {
	index     Index
	lock      Locker
	fetcher   Fetcher
	codec     Codec
	imagesDir string
	workers   *semaphore.Weighted
	group     singleflight.Group
	now       func() time.Time
}

// NewEngine creates an engine
func NewEngine(index Index, lock Locker, fetcher Fetcher, codec Codec, opts EngineOptions) *Engine {
	workers := int64(opts.Workers)
	if workers < 1 {
		workers = 1
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		index:     index,
		lock:      lock,
		fetcher:   fetcher,
		codec:     codec,
		imagesDir: opts.ImagesDir,
		workers:   semaphore.NewWeighted(workers),
		now:       now,
	}
}

// Resolve returns the artifact for key.
//
// A committed record whose file still exists is returned without locking.
// Otherwise the source is fetched and resized under the lock, the artifact is
// written to a new file and only then is the index updated.
func (e *Engine) Resolve(ctx context.Context, key Key, headers http.Header) (Artifact, error) {
	rec, err := e.lookup(ctx, key)
	if err != nil {
		return Artifact{}, err
	}
	if rec != nil {
		logging.Logger.Debug("Cache hit",
			zap.String("key", key.String()),
			zap.String("file", rec.FilePath))
		return Artifact{FilePath: rec.FilePath, MimeType: rec.MimeType}, nil
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return Artifact{}, err
	}
	defer e.workers.Release(1)

	// Identical misses in this process share one regeneration
	result, err, shared := e.group.Do(key.String(), func() (any, error) {
		return e.regenerate(context.WithoutCancel(ctx), key, headers)
	})
	if err != nil {
		return Artifact{}, err
	}
	if shared {
		logging.Logger.Debug("Shared regeneration", zap.String("key", key.String()))
	}
	return result.(Artifact), nil
}

// lookup returns the record for key when its artifact still exists, nil otherwise
func (e *Engine) lookup(ctx context.Context, key Key) (*Record, error) {
	rec, err := e.index.Get(ctx, key)
	if errors.Is(err, ErrCacheNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	if _, err := os.Stat(rec.FilePath); err != nil {
		logging.Logger.Info("Cached file is gone, regenerating",
			zap.String("key", key.String()),
			zap.String("file", rec.FilePath),
			zap.Error(err))
		return nil, nil
	}
	return rec, nil
}

func (e *Engine) regenerate(ctx context.Context, key Key, headers http.Header) (Artifact, error) {
	var artifact Artifact
	err := e.lock.WithLock(func() error {
		// another process may have regenerated the key while we waited for the lock
		rec, err := e.lookup(ctx, key)
		if err != nil {
			return err
		}
		if rec != nil {
			artifact = Artifact{FilePath: rec.FilePath, MimeType: rec.MimeType}
			return nil
		}

		artifact, err = e.generate(ctx, key, headers)
		return err
	})
	return artifact, err
}

func (e *Engine) generate(ctx context.Context, key Key, headers http.Header) (Artifact, error) {
	start := time.Now()

	data, err := e.fetcher.Fetch(ctx, key.URL, headers)
	if err != nil {
		return Artifact{}, err
	}

	src, err := e.codec.Decode(data)
	if err != nil {
		return Artifact{}, err
	}

	format := key.Format
	if format == imaging.FormatUnspecified {
		format = src.Format
	}
	if !e.codec.Supports(format) {
		return Artifact{}, fmt.Errorf("%w: %s", imaging.ErrUnsupportedFormat, format)
	}

	bounds := src.Bounds()
	geo := geometry.Resolve(
		geometry.Size{Width: bounds.Dx(), Height: bounds.Dy()},
		key.Width, key.Height, key.Scale)

	var crop *image.Rectangle
	if geo.Crop != nil {
		r := geo.Crop.Rect()
		crop = &r
	}
	resized := e.codec.Resize(src.Image, crop, geo.Size.Width, geo.Size.Height)

	path, err := e.writeArtifact(ctx, resized, format)
	if err != nil {
		return Artifact{}, err
	}

	rec := Record{
		Key:       key,
		FilePath:  path,
		MimeType:  format.MimeType(),
		WrittenAt: e.now(),
	}
	if err := e.index.Upsert(ctx, rec); err != nil {
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	logging.Logger.Info("Resized image",
		zap.String("url", key.URL),
		zap.Int("source_width", bounds.Dx()),
		zap.Int("source_height", bounds.Dy()),
		zap.Int("width", geo.Size.Width),
		zap.Int("height", geo.Size.Height),
		zap.String("format", string(format)),
		zap.Int("frames", len(resized.Frames)),
		zap.String("file", path),
		zap.Duration("duration", time.Since(start)))

	return Artifact{FilePath: rec.FilePath, MimeType: rec.MimeType}, nil
}

// writeArtifact encodes img into a new uniquely named file
func (e *Engine) writeArtifact(ctx context.Context, img *imaging.Image, format imaging.Format) (string, error) {
	if err := os.MkdirAll(e.imagesDir, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create images directory: %w", ErrStorage, err)
	}

	path := filepath.Join(e.imagesDir, uuid.NewString()+format.Extension())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create artifact: %w", ErrStorage, err)
	}

	w := bufio.NewWriter(f)
	err = e.codec.Encode(ctx, w, img, format)
	if err == nil {
		if err = w.Flush(); err != nil {
			err = fmt.Errorf("%w: failed to write artifact: %w", ErrStorage, err)
		}
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: failed to close artifact: %w", ErrStorage, closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}
