// Package imaging decodes, resizes and encodes images.
//
// Every image is handled as a sequence of frames: still images are the one-frame
// case and animated GIFs carry one composited frame per animation step.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"go.uber.org/zap"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/caarmen/image-resizer/pkg/logging"
)

var (
	// ErrDecode is returned when the source bytes are not a recognizable image
	ErrDecode = errors.New("could not decode image")
	// ErrUnsupportedFormat is returned when no encoder can produce the requested format
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

const jpegQuality = 90

// DefaultMaxPixels bounds the decoded size of a source image, summed over its frames
const DefaultMaxPixels = 178_956_970

// Image is an ordered list of frames sharing the same bounds
type Image struct {
	Frames []image.Image
	// Delays holds per-frame delays in 100ths of a second, for animated images
	Delays    []int
	LoopCount int
}

// Animated reports whether the image has more than one frame
func (i *Image) Animated() bool {
	return len(i.Frames) > 1
}

// Bounds returns the bounds of the first frame
func (i *Image) Bounds() image.Rectangle {
	if len(i.Frames) == 0 {
		return image.Rectangle{}
	}
	return i.Frames[0].Bounds()
}

// Source is a decoded source image together with its native format
type Source struct {
	*Image
	Format Format
}

// Encoder writes an Image in a given format
type Encoder interface {
	Supports(format Format) bool
	Encode(ctx context.Context, w io.Writer, img *Image, format Format) error
}

// Codec is the built-in image codec. Formats it cannot write natively are
// delegated to an optional fallback Encoder.
type Codec struct {
	fallback  Encoder
	maxPixels int64
}

// Option configures a Codec
type Option func(*Codec)

// WithFallbackEncoder sets the encoder used for formats the Codec cannot write itself
func WithFallbackEncoder(e Encoder) Option {
	return func(c *Codec) {
		c.fallback = e
	}
}

// WithMaxPixels sets the largest source image, in pixels over all frames, that Decode accepts
func WithMaxPixels(n int64) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxPixels = n
		}
	}
}

// NewCodec creates a codec
func NewCodec(opts ...Option) *Codec {
	c := &Codec{maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Decode reads an image from data. GIF sources keep all of their frames.
func (c *Codec) Decode(data []byte) (*Source, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := c.checkPixels(cfg.Width, cfg.Height, 1); err != nil {
		return nil, err
	}

	format, err := ParseFormat(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if format == FormatGIF {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		// every frame is expanded to a full canvas
		if err := c.checkPixels(cfg.Width, cfg.Height, len(g.Image)); err != nil {
			return nil, err
		}
		return &Source{Image: composeGIF(g), Format: FormatGIF}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &Source{Image: &Image{Frames: []image.Image{img}}, Format: format}, nil
}

func (c *Codec) checkPixels(width, height, frames int) error {
	pixels := int64(width) * int64(height) * int64(frames)
	if pixels > c.maxPixels {
		return fmt.Errorf("%w: %dx%d image with %d frame(s) exceeds the %d pixel limit",
			ErrDecode, width, height, frames, c.maxPixels)
	}
	return nil
}

// Resize crops every frame to crop (when not nil) and scales it to width x height.
// Sizes below one pixel are raised to one pixel.
func (c *Codec) Resize(img *Image, crop *image.Rectangle, width, height int) *Image {
	width = max(width, 1)
	height = max(height, 1)

	out := &Image{
		Frames:    make([]image.Image, 0, len(img.Frames)),
		Delays:    img.Delays,
		LoopCount: img.LoopCount,
	}
	for _, frame := range img.Frames {
		src := frame.Bounds()
		if crop != nil {
			src = nonEmptyCrop(crop.Add(src.Min), src)
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), frame, src, draw.Src, nil)
		out.Frames = append(out.Frames, dst)
	}
	return out
}

// Supports reports whether the codec can write format, natively or through its fallback
func (c *Codec) Supports(format Format) bool {
	if c.supportsNatively(format) {
		return true
	}
	return c.fallback != nil && c.fallback.Supports(format)
}

func (c *Codec) supportsNatively(format Format) bool {
	switch format {
	case FormatBMP, FormatGIF, FormatJPEG, FormatPNG, FormatTIFF:
		return true
	default:
		return false
	}
}

// Encode writes img to w in the given format. Multi-frame images keep every frame
// in formats that can hold several (gif, png, tiff, webp, pdf); bmp and jpeg receive
// the first frame. Multi-frame png and tiff need the fallback encoder.
func (c *Codec) Encode(ctx context.Context, w io.Writer, img *Image, format Format) error {
	if len(img.Frames) == 0 {
		return fmt.Errorf("%w: no frames to encode", ErrDecode)
	}

	if !c.supportsNatively(format) || (img.Animated() && multiFrameFallback(format)) {
		if c.fallback != nil && c.fallback.Supports(format) {
			logging.Logger.Debug("Delegating encode to fallback encoder",
				zap.String("format", string(format)),
				zap.Int("frames", len(img.Frames)))
			return c.fallback.Encode(ctx, w, img, format)
		}
		if img.Animated() {
			return fmt.Errorf("%w: %d frames as %s", ErrUnsupportedFormat, len(img.Frames), format)
		}
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	first := img.Frames[0]
	switch format {
	case FormatGIF:
		return gif.EncodeAll(w, toGIF(img))
	case FormatPNG:
		return png.Encode(w, first)
	case FormatJPEG:
		return jpeg.Encode(w, first, &jpeg.Options{Quality: jpegQuality})
	case FormatBMP:
		return bmp.Encode(w, first)
	case FormatTIFF:
		return tiff.Encode(w, first, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// multiFrameFallback reports whether a multi-frame image in format can only be
// written by the fallback encoder
func multiFrameFallback(format Format) bool {
	return format == FormatPNG || format == FormatTIFF
}

// nonEmptyCrop intersects crop with bounds, keeping at least one source pixel
func nonEmptyCrop(crop, bounds image.Rectangle) image.Rectangle {
	r := crop.Intersect(bounds)
	if !r.Empty() {
		return r
	}
	x := min(max(crop.Min.X, bounds.Min.X), bounds.Max.X-1)
	y := min(max(crop.Min.Y, bounds.Min.Y), bounds.Max.Y-1)
	return image.Rect(x, y, x+1, y+1)
}
