package imaging

import (
	"fmt"
	"strings"
)

// Format is an image encoding understood by the resizer
type Format string

const (
	FormatUnspecified Format = ""
	FormatBMP         Format = "bmp"
	FormatGIF         Format = "gif"
	FormatJPEG        Format = "jpeg"
	FormatPDF         Format = "pdf"
	FormatPNG         Format = "png"
	FormatTIFF        Format = "tiff"
	FormatWEBP        Format = "webp"
)

// Formats lists every supported format, in the order they are documented
var Formats = []Format{FormatBMP, FormatGIF, FormatJPEG, FormatPDF, FormatPNG, FormatTIFF, FormatWEBP}

// ParseFormat converts a request value into a Format.
// Decoder names such as "jpg" or "tif" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return FormatUnspecified, nil
	case "jpg":
		return FormatJPEG, nil
	case "tif":
		return FormatTIFF, nil
	}
	for _, f := range Formats {
		if string(f) == v {
			return f, nil
		}
	}
	return FormatUnspecified, fmt.Errorf("unknown image format %q", s)
}

// MimeType returns the content type served for an artifact in this format
func (f Format) MimeType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "image/" + string(f)
}

// Extension returns the file extension used for artifacts, including the dot
func (f Format) Extension() string {
	if f == FormatUnspecified {
		return ""
	}
	return "." + string(f)
}

// ScaleType controls how a source image maps onto a requested width x height box
type ScaleType string

const (
	ScaleFitXY                  ScaleType = "fit_xy"
	ScaleFitPreserveAspectRatio ScaleType = "fit_preserve_aspect_ratio"
	ScaleCrop                   ScaleType = "crop"
)

// ScaleTypes lists every supported scale type
var ScaleTypes = []ScaleType{ScaleFitXY, ScaleFitPreserveAspectRatio, ScaleCrop}

// ParseScaleType converts a request value into a ScaleType. Empty means fit_xy.
func ParseScaleType(s string) (ScaleType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return ScaleFitXY, nil
	}
	for _, st := range ScaleTypes {
		if string(st) == v {
			return st, nil
		}
	}
	return ScaleFitXY, fmt.Errorf("unknown scale type %q", s)
}
