// Package geometry computes the target size and optional crop box for a resize request.
//
// All functions are pure. Derived dimensions truncate toward zero so that output
// sizes are deterministic for a given source size and request, and are never
// smaller than one pixel.
package geometry

import (
	"image"

	"github.com/caarmen/image-resizer/pkg/imaging"
)

// Size is a width x height pair in pixels
type Size struct {
	Width  int
	Height int
}

// Box is a crop region in source pixel coordinates
type Box struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// Rect converts the box to an image.Rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Geometry is the result of resolving a resize request against a source size
type Geometry struct {
	Size Size
	// Crop is nil unless the source must be cropped before scaling
	Crop *Box
}

// Resolve maps a source size, requested width/height and scale type to a Geometry.
//
// A requested dimension is only used when it is strictly positive. With one valid
// dimension the other one follows the source aspect ratio, whatever the scale type.
// With both valid, the scale type decides:
//   - fit_xy: exactly width x height, aspect ratio may change
//   - fit_preserve_aspect_ratio: the largest size inside the box keeping the aspect ratio
//   - crop: exactly width x height, with a centered crop box that removes the excess
func Resolve(source Size, width, height int, scale imaging.ScaleType) Geometry {
	validWidth := width > 0
	validHeight := height > 0

	if !validWidth || !validHeight {
		return Geometry{Size: partialSize(source, width, height, validWidth, validHeight)}
	}

	switch scale {
	case imaging.ScaleFitPreserveAspectRatio:
		return Geometry{Size: fitPreserveAspectRatio(source, width, height)}
	case imaging.ScaleCrop:
		box := cropBox(source, width, height)
		return Geometry{Size: Size{Width: width, Height: height}, Crop: &box}
	default:
		return Geometry{Size: Size{Width: width, Height: height}}
	}
}

func aspectRatio(s Size) float64 {
	return float64(s.Width) / float64(s.Height)
}

func partialSize(source Size, width, height int, validWidth, validHeight bool) Size {
	switch {
	case validWidth:
		return Size{Width: width, Height: atLeastOne(float64(width) / aspectRatio(source))}
	case validHeight:
		return Size{Width: atLeastOne(float64(height) * aspectRatio(source)), Height: height}
	default:
		return source
	}
}

func fitPreserveAspectRatio(source Size, width, height int) Size {
	sar := aspectRatio(source)
	dar := float64(width) / float64(height)
	if sar > dar {
		return Size{Width: width, Height: atLeastOne(float64(width) / sar)}
	}
	return Size{Width: atLeastOne(float64(height) * sar), Height: height}
}

// atLeastOne truncates v toward zero, keeping at least one pixel
func atLeastOne(v float64) int {
	return max(int(v), 1)
}

func cropBox(source Size, width, height int) Box {
	sar := aspectRatio(source)
	dar := float64(width) / float64(height)

	if sar > dar {
		// source is wider: keep the full height, trim left and right
		visible := float64(width) * float64(source.Height) / float64(height)
		left := (float64(source.Width) - visible) / 2
		return Box{
			Left:   int(left),
			Top:    0,
			Right:  max(int(left+visible), int(left)+1),
			Bottom: source.Height,
		}
	}

	visible := float64(height) * float64(source.Width) / float64(width)
	top := (float64(source.Height) - visible) / 2
	return Box{
		Left:   0,
		Top:    int(top),
		Right:  source.Width,
		Bottom: max(int(top+visible), int(top)+1),
	}
}
