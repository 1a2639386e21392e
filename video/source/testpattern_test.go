package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcam/video"
)

func TestTestPatternMoves(t *testing.T) {
	tp, err := NewTestPattern(TestPatternOptions{
		Width:       16,
		Height:      8,
		PixelFormat: video.PixFmtYF32,
		Speed:       1,
		Scale:       2,
	})
	require.NoError(t, err)
	var _ Source = tp
	r := tp.Output().NewReader()

	var frames [][]float32
	for i := 0; i < 3; i++ {
		require.True(t, tp.Trigger())
		s, ok := r.ReserveRead()
		require.True(t, ok)
		assert.False(t, s.Time.IsZero())
		frames = append(frames, append([]float32(nil), s.Images[0].Float32()...))
		r.Release(s)
	}

	// 4x4 squares.
	assert.Equal(t, float32(patternLow), frames[0][0])
	assert.Equal(t, float32(patternHigh), frames[0][4])
	assert.Equal(t, float32(patternHigh), frames[0][4*16])
	assert.Equal(t, float32(patternLow), frames[0][4*16+4])

	// Content scrolls left one pixel per frame.
	for y := 0; y < 8; y++ {
		for x := 0; x < 15; x++ {
			assert.Equal(t, frames[0][y*16+x+1], frames[1][y*16+x])
			assert.Equal(t, frames[1][y*16+x+1], frames[2][y*16+x])
		}
	}
}

func TestTestPatternFormats(t *testing.T) {
	tp, err := NewTestPattern(TestPatternOptions{Width: 4, Height: 4, PixelFormat: video.PixFmtRGB8, Scale: 1})
	require.NoError(t, err)
	r := tp.Output().NewReader()
	require.True(t, tp.Trigger())
	s, ok := r.ReserveRead()
	require.True(t, ok)
	px := s.Images[0].Uint8()
	assert.Equal(t, []uint8{51, 51, 51, 51, 51, 51, 204, 204, 204}, px[:9])
	r.Release(s)

	_, err = NewTestPattern(TestPatternOptions{Width: 4, Height: 4, PixelFormat: video.PixFmtY16})
	assert.ErrorIs(t, err, video.ErrBadFormat)
}

func TestVideoCaptureMissingFile(t *testing.T) {
	_, err := NewVideoCapture("/nonexistent/flowcam.mp4", CaptureOptions{})
	assert.Error(t, err)

	_, err = NewVideoCapture("/nonexistent/flowcam.mp4", CaptureOptions{PixelFormat: video.PixFmtYF32})
	assert.ErrorIs(t, err, video.ErrBadFormat)
}
