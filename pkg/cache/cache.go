package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarmen/image-resizer/pkg/imaging"
)

var (
	ErrCacheNotFound = errors.New("cache entry not found")
	// ErrStorage wraps filesystem and index failures
	ErrStorage = errors.New("cache storage failure")
	// ErrLock wraps failures to acquire or release the cross-process lock
	ErrLock = errors.New("cache lock failure")
)

// Key identifies a derived image. Two requests with equal keys share the same artifact.
type Key struct {
	URL    string
	Width  int
	Height int
	Format imaging.Format
	Scale  imaging.ScaleType
}

// NewKey normalizes request parameters into a Key: non-positive sizes mean
// unspecified and an empty scale type means fit_xy
func NewKey(url string, width, height int, format imaging.Format, scale imaging.ScaleType) Key {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	if scale == "" {
		scale = imaging.ScaleFitXY
	}
	return Key{URL: url, Width: width, Height: height, Format: format, Scale: scale}
}

// String is the canonical form of the key
func (k Key) String() string {
	return fmt.Sprintf("%s|%dx%d|%s|%s", k.URL, k.Width, k.Height, k.Format, k.Scale)
}

// Record is an index entry pointing at the artifact of a Key
type Record struct {
	Key
	FilePath  string
	MimeType  string
	WrittenAt time.Time
}

// Artifact is what a resolution hands back to the caller
type Artifact struct {
	FilePath string
	MimeType string
}

// Index stores one Record per Key
type Index interface {
	// Get returns ErrCacheNotFound when no record exists for key
	Get(ctx context.Context, key Key) (*Record, error)
	// Upsert creates the record for rec.Key, or replaces its file, mime type and timestamp
	Upsert(ctx context.Context, rec Record) error
	// SelectOlderThan returns every record written at or before cutoff
	SelectOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error)
	// Delete removes the given records in one batch. A record that was rewritten
	// since it was selected is kept.
	Delete(ctx context.Context, records []Record) (int, error)
	Close() error
}
