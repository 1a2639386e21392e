package process

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowcam/video"
)

// feed is a producer stage emitting whatever frame the test hands it.
type feed struct {
	*video.Processor
	next func(img *video.Image)
}

func newFeed(t *testing.T, f video.Format) *feed {
	t.Helper()
	fd := &feed{}
	p, err := video.NewProcessor(video.ProcessorOptions{
		Name:        "test-feed",
		Formats:     []video.Format{f},
		BufferSlots: 2,
	}, func(_ []*video.Slot, out *video.Slot) {
		fd.next(out.Images[0])
		out.Time = time.Now()
	})
	require.NoError(t, err)
	fd.Processor = p
	return fd
}

func (f *feed) pushF32(t *testing.T, frame []float32) {
	t.Helper()
	f.next = func(img *video.Image) { copy(img.Float32(), frame) }
	require.True(t, f.Trigger())
}

func yf32(w, h int) video.Format {
	return video.Format{Width: w, Height: h, PixelFormat: video.PixFmtYF32}
}

// pattern is two crossed sinusoidal gratings whose content is moved by
// (sx,sy) pixels.
func pattern(w, h int, sx, sy float64) []float32 {
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			X, Y := float64(x)-sx, float64(y)-sy
			v := 0.5 + 0.2*(math.Sin(2*math.Pi*(0.8*X+0.6*Y)/18)+math.Sin(2*math.Pi*(0.6*X-0.8*Y)/22))
			out[y*w+x] = float32(v)
		}
	}
	return out
}

func constant(w, h int, v float32) []float32 {
	out := make([]float32, w*h)
	for i := range out {
		out[i] = v
	}
	return out
}

// rig wires a feed, an estimator and a reader on the estimator output.
type rig struct {
	feed *feed
	est  *MotionEstimator
	out  *video.Reader
}

func newRig(t *testing.T, w, h int, opts MotionOptions) *rig {
	t.Helper()
	fd := newFeed(t, yf32(w, h))
	est, err := NewMotionEstimator(fd, opts)
	require.NoError(t, err)
	return &rig{feed: fd, est: est, out: est.Output().NewReader()}
}

// step processes one frame and returns a copy of the output image.
func (r *rig) step(t *testing.T, frame []float32) []float32 {
	t.Helper()
	r.feed.pushF32(t, frame)
	require.True(t, r.est.Trigger())
	s, ok := r.out.ReserveRead()
	require.True(t, ok)
	out := append([]float32(nil), s.Images[0].Float32()...)
	r.out.Release(s)
	return out
}
