package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcam/video"
)

// convertOne pushes a single frame through a converter and returns its
// output image.
func convertOne(t *testing.T, in video.Format, fill func(*video.Image), mk func(video.Stage) (*video.Processor, error)) *video.Image {
	t.Helper()
	fd := newFeed(t, in)
	conv, err := mk(fd)
	require.NoError(t, err)
	r := conv.Output().NewReader()

	fd.next = fill
	require.True(t, fd.Trigger())
	require.True(t, conv.Trigger())
	s, ok := r.ReserveRead()
	require.True(t, ok)
	defer r.Release(s)
	return s.Images[0].Clone()
}

func TestToF32(t *testing.T) {
	toF32 := func(s video.Stage) (*video.Processor, error) { return NewToF32(s, 2) }

	out := convertOne(t, video.Format{Width: 2, Height: 1, PixelFormat: video.PixFmtY8}, func(img *video.Image) {
		copy(img.Uint8(), []uint8{128, 255})
	}, toF32)
	assert.Equal(t, video.PixFmtYF32, out.Format().PixelFormat)
	assert.Equal(t, []float32{0.5, 255.0 / 256}, out.Float32())

	out = convertOne(t, video.Format{Width: 1, Height: 1, PixelFormat: video.PixFmtY16}, func(img *video.Image) {
		img.Uint16()[0] = 32768
	}, toF32)
	assert.Equal(t, []float32{0.5}, out.Float32())

	out = convertOne(t, video.Format{Width: 1, Height: 1, PixelFormat: video.PixFmtRGB8}, func(img *video.Image) {
		copy(img.Uint8(), []uint8{0, 64, 128})
	}, toF32)
	assert.Equal(t, video.PixFmtRGBF32, out.Format().PixelFormat)
	assert.Equal(t, []float32{0, 0.25, 0.5}, out.Float32())

	out = convertOne(t, yf32(2, 1), func(img *video.Image) {
		copy(img.Float32(), []float32{-1, 3})
	}, toF32)
	assert.Equal(t, []float32{-1, 3}, out.Float32())
}

func TestToRGB8(t *testing.T) {
	toRGB8 := func(scale float32) func(video.Stage) (*video.Processor, error) {
		return func(s video.Stage) (*video.Processor, error) { return NewToRGB8(s, scale, 2) }
	}

	out := convertOne(t, yf32(4, 1), func(img *video.Image) {
		copy(img.Float32(), []float32{0.5, 2, -1, 0.25})
	}, toRGB8(1))
	assert.Equal(t, video.Format{Width: 4, Height: 1, PixelFormat: video.PixFmtRGB8}, out.Format())
	assert.Equal(t, []uint8{128, 128, 128, 255, 255, 255, 0, 0, 0, 64, 64, 64}, out.Uint8())

	out = convertOne(t, video.Format{Width: 2, Height: 1, PixelFormat: video.PixFmtY8}, func(img *video.Image) {
		copy(img.Uint8(), []uint8{100, 200})
	}, toRGB8(2))
	assert.Equal(t, []uint8{200, 200, 200, 255, 255, 255}, out.Uint8())

	out = convertOne(t, video.Format{Width: 1, Height: 1, PixelFormat: video.PixFmtY16}, func(img *video.Image) {
		img.Uint16()[0] = 256 * 40
	}, toRGB8(1))
	assert.Equal(t, []uint8{40, 40, 40}, out.Uint8())

	out = convertOne(t, video.Format{Width: 1, Height: 1, PixelFormat: video.PixFmtRGBF32}, func(img *video.Image) {
		copy(img.Float32(), []float32{0, 0.5, 1})
	}, toRGB8(1))
	assert.Equal(t, []uint8{0, 128, 255}, out.Uint8())
}

func TestConvertFeedsEstimator(t *testing.T) {
	fd := newFeed(t, video.Format{Width: 64, Height: 64, PixelFormat: video.PixFmtY8})
	f32, err := NewToF32(fd, 2)
	require.NoError(t, err)
	est, err := NewMotionEstimator(f32, MotionOptions{Mode: ModeNoTransform})
	require.NoError(t, err)
	rgb, err := NewToRGB8(est, 1, 2)
	require.NoError(t, err)
	r := rgb.Output().NewReader()

	fd.next = func(img *video.Image) {
		for i := range img.Uint8() {
			img.Uint8()[i] = uint8(i % 251)
		}
	}
	require.True(t, fd.Trigger())
	require.True(t, f32.Trigger())
	require.True(t, est.Trigger())
	require.True(t, rgb.Trigger())

	s, ok := r.ReserveRead()
	require.True(t, ok)
	px := s.Images[0].Uint8()
	for i := 0; i < 64*64; i++ {
		require.Equal(t, uint8(i%251), px[3*i])
	}
	r.Release(s)
}
