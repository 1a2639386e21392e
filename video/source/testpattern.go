package source

import (
	"fmt"
	"math"
	"time"

	"flowcam/video"
)

// Checkerboard intensities.
const (
	patternLow  = 0.2
	patternHigh = 0.8
)

type TestPatternOptions struct {
	Width, Height int
	// PixelFormat is one of PixFmtY8, PixFmtYF32 or PixFmtRGB8.
	PixelFormat video.PixelFormat
	// Speed is the horizontal motion in pixels per frame.
	Speed float64
	// Scale is log2 of the square size.
	Scale       uint8
	BufferSlots int
}

// TestPattern produces a checkerboard that scrolls horizontally.
type TestPattern struct {
	*video.Processor
	opts  TestPatternOptions
	frame uint64
}

func NewTestPattern(opts TestPatternOptions) (*TestPattern, error) {
	switch opts.PixelFormat {
	case video.PixFmtY8, video.PixFmtYF32, video.PixFmtRGB8:
	default:
		return nil, fmt.Errorf("test pattern %v: %w", opts.PixelFormat, video.ErrBadFormat)
	}
	tp := &TestPattern{opts: opts}
	p, err := video.NewProcessor(video.ProcessorOptions{
		Name:        "testpattern",
		Formats:     []video.Format{{Width: opts.Width, Height: opts.Height, PixelFormat: opts.PixelFormat}},
		BufferSlots: opts.BufferSlots,
	}, tp.render)
	if err != nil {
		return nil, err
	}
	tp.Processor = p
	return tp, nil
}

// Value returns the intensity of pixel (x,y) in the given frame.
func (tp *TestPattern) Value(frame uint64, x, y int) float32 {
	off := int(math.Floor(float64(frame) * tp.opts.Speed))
	s := tp.opts.Scale
	if ((x+off)>>s+y>>s)&1 == 0 {
		return patternLow
	}
	return patternHigh
}

func (tp *TestPattern) render(_ []*video.Slot, out *video.Slot) {
	img := out.Images[0]
	w, h := tp.opts.Width, tp.opts.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := tp.Value(tp.frame, x, y)
			o := y*w + x
			switch tp.opts.PixelFormat {
			case video.PixFmtYF32:
				img.Float32()[o] = v
			case video.PixFmtY8:
				img.Uint8()[o] = uint8(v*255 + 0.5)
			case video.PixFmtRGB8:
				c := uint8(v*255 + 0.5)
				px := img.Uint8()[3*o : 3*o+3]
				px[0], px[1], px[2] = c, c, c
			}
		}
	}
	out.Time = time.Now()
	tp.frame++
}

func (tp *TestPattern) Connected() bool {
	return true
}

func (tp *TestPattern) Close() {}
