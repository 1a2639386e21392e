package sink

import (
	"time"

	"flowcam/video"
)

// FPSNormalize wraps another Sink so that an incoming stream of variable-timed
// video is converted to fixed-rate video. This is useful for exporting a
// webcam feed (which may have variable frame rate) to a video file which
// requires fixed frame rate. Frames will be dropped or added in order to
// achieve the target frame rate.
type FPSNormalize struct {
	// sink is the wrapped Sink which will receive a FPS-normalized stream.
	sink Sink

	frameDur time.Duration
	last     *video.Image
	curFrame time.Time
	seq      uint64
}

// NewFPSNormalize creates an FPSNormalize, wrapping the provided sink and
// exporting at the given frame rate.
func NewFPSNormalize(sink Sink, fps int) *FPSNormalize {
	return &FPSNormalize{
		sink:     sink,
		frameDur: time.Second / time.Duration(fps),
	}
}

func (f *FPSNormalize) Close() {
	f.sink.Close()
}

func (f *FPSNormalize) put(img *video.Image) {
	f.sink.Put(Frame{Image: img, Time: f.curFrame, Seq: f.seq})
	f.seq++
}

func (f *FPSNormalize) keep(img *video.Image) {
	if f.last == nil || f.last.Format() != img.Format() {
		f.last = img.Clone()
		return
	}
	f.last.CopyFrom(img)
}

func (f *FPSNormalize) Put(input Frame) {
	if f.curFrame.IsZero() {
		f.curFrame = input.Time
		f.put(input.Image)
		f.keep(input.Image)
		return
	}

	nextFrame := f.curFrame.Add(f.frameDur)
	if input.Time.Before(nextFrame) {
		// Don't need a new frame yet. Ignore.
		return
	}

	for {
		f.curFrame = nextFrame
		nextFrame = f.curFrame.Add(f.frameDur)
		if input.Time.Before(nextFrame) {
			f.put(input.Image)
			f.keep(input.Image)
			return
		}
		// Missed a frame. Rewrite last frame.
		f.put(f.last)
	}
}
