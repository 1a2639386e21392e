package overlay

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcam/video"
	"flowcam/video/process"
)

type fixedFlow process.MotionSample

func (f fixedFlow) Latest() process.MotionSample {
	return process.MotionSample(f)
}

func gray(t *testing.T, f video.Format) *video.Processor {
	p, err := video.NewProcessor(video.ProcessorOptions{
		Name:    "overlay-src",
		Formats: []video.Format{f},
	}, func(_ []*video.Slot, out *video.Slot) {
		for i := range out.Images[0].Uint8() {
			out.Images[0].Uint8()[i] = 100
		}
		out.Time = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	})
	require.NoError(t, err)
	return p
}

func TestOverlayDrawsArrow(t *testing.T) {
	f := video.Format{Width: 64, Height: 48, PixelFormat: video.PixFmtRGB8}
	src := gray(t, f)
	o, err := New(src, fixedFlow{OutputHx: 1}, Options{Label: "test"})
	require.NoError(t, err)
	r := o.Output().NewReader()

	c, tip := o.Arrow(fixedFlow{OutputHx: 1}.Latest(), f.Width, f.Height)
	assert.Equal(t, image.Point{X: 32, Y: 24}, c)
	assert.Equal(t, image.Point{X: 52, Y: 24}, tip)

	require.True(t, src.Trigger())
	require.True(t, o.Trigger())
	s, ok := r.ReserveRead()
	require.True(t, ok)
	defer r.Release(s)

	px := func(x, y int) []uint8 {
		i := 3 * (y*f.Width + x)
		return s.Images[0].Uint8()[i : i+3]
	}
	// Along the arrow shaft.
	assert.Equal(t, []uint8{255, 255, 0}, px(40, 24))
	// Untouched.
	assert.Equal(t, []uint8{100, 100, 100}, px(10, 40))
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), s.Time)
}

func TestOverlayRequiresRGB8(t *testing.T) {
	src := gray(t, video.Format{Width: 8, Height: 8, PixelFormat: video.PixFmtY8})
	_, err := New(src, fixedFlow{}, Options{})
	assert.ErrorIs(t, err, video.ErrBadFormat)
}
