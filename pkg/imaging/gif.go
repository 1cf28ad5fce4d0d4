package imaging

import (
	"image"
	"image/color/palette"
	"image/gif"

	"golang.org/x/image/draw"
)

// composeGIF renders every GIF frame onto the full logical screen so that frames
// can be scaled independently of the deltas they were stored as.
func composeGIF(g *gif.GIF) *Image {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}

	canvas := image.NewRGBA(bounds)
	out := &Image{
		Frames:    make([]image.Image, 0, len(g.Image)),
		Delays:    make([]int, 0, len(g.Image)),
		LoopCount: g.LoopCount,
	}

	for i, frame := range g.Image {
		var previous *image.RGBA
		disposal := disposalAt(g, i)
		if disposal == gif.DisposalPrevious {
			previous = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		out.Frames = append(out.Frames, cloneRGBA(canvas))
		out.Delays = append(out.Delays, delayAt(g, i))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return out
}

// toGIF quantizes frames back to paletted images for gif.EncodeAll
func toGIF(img *Image) *gif.GIF {
	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(img.Frames)),
		Delay:     make([]int, 0, len(img.Frames)),
		LoopCount: img.LoopCount,
	}
	for i, frame := range img.Frames {
		p := image.NewPaletted(frame.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(p, p.Bounds(), frame, frame.Bounds().Min)
		out.Image = append(out.Image, p)
		delay := 0
		if i < len(img.Delays) {
			delay = img.Delays[i]
		}
		out.Delay = append(out.Delay, delay)
	}
	return out
}

func disposalAt(g *gif.GIF, i int) byte {
	if i < len(g.Disposal) {
		return g.Disposal[i]
	}
	return gif.DisposalNone
}

func delayAt(g *gif.GIF, i int) int {
	if i < len(g.Delay) {
		return g.Delay[i]
	}
	return 0
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
