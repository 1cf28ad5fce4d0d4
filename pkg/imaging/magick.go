package imaging

import (
	"context"
	"errors"
	"fmt"
	"image/gif"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/caarmen/image-resizer/pkg/logging"
)

// MagickEncoder writes what the built-in codec cannot produce (webp, pdf, and
// multi-frame png or tiff) by handing an intermediate PNG or GIF to the
// ImageMagick command line.
type MagickEncoder struct {
	magickBinary []string
	formats      map[Format]bool
}

// NewMagickEncoder looks for an ImageMagick binary on the PATH
func NewMagickEncoder() (*MagickEncoder, error) {
	me := &MagickEncoder{
		formats: map[Format]bool{FormatWEBP: true, FormatPDF: true, FormatPNG: true, FormatTIFF: true},
	}
	commands := [][]string{{"magick", "-version"}, {"convert", "-version"}}

	for _, command := range commands {
		if _, err := exec.Command(command[0], command[1:]...).Output(); err != nil {
			logging.Logger.Debug("Magick binary not found", zap.Strings("command", command))
			continue
		}

		logging.Logger.Debug("Magick binary found", zap.Strings("command", command))
		me.magickBinary = command[:len(command)-1]
		break
	}

	if len(me.magickBinary) == 0 {
		return nil, errors.New("magick binary not available")
	}

	return me, nil
}

// Supports reports whether format is produced by this encoder
func (m *MagickEncoder) Supports(format Format) bool {
	return m.formats[format]
}

// Encode converts img to format through a temporary directory
func (m *MagickEncoder) Encode(ctx context.Context, w io.Writer, img *Image, format Format) error {
	if !m.Supports(format) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	dir, err := os.MkdirTemp("", "image-resizer-magick-")
	if err != nil {
		return fmt.Errorf("failed to create magick work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	in, err := writeIntermediate(dir, img)
	if err != nil {
		return err
	}
	out := filepath.Join(dir, "out"+format.Extension())
	target := out
	if format == FormatPNG && img.Animated() {
		// plain png output would keep only the first frame
		target = "APNG:" + out
	}

	args := append(append([]string{}, m.magickBinary...), in, target)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if output, err := cmd.CombinedOutput(); err != nil {
		logging.Logger.Error("Magick command failed",
			zap.ByteString("output", output),
			zap.String("format", string(format)),
			zap.Error(err))
		return fmt.Errorf("magick conversion to %s failed: %w", format, err)
	}

	f, err := os.Open(out)
	if err != nil {
		return fmt.Errorf("failed to open magick output: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to copy magick output: %w", err)
	}

	logging.Logger.Debug("Magick conversion finished", zap.String("format", string(format)))
	return nil
}

func writeIntermediate(dir string, img *Image) (string, error) {
	ext := ".png"
	if img.Animated() {
		ext = ".gif"
	}
	path := filepath.Join(dir, "in"+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create magick input: %w", err)
	}
	defer f.Close()

	if img.Animated() {
		err = gif.EncodeAll(f, toGIF(img))
	} else {
		err = png.Encode(f, img.Frames[0])
	}
	if err != nil {
		return "", fmt.Errorf("failed to write magick input: %w", err)
	}
	return path, nil
}
