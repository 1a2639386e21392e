package record

import (
	"time"

	"flowcam/video"
	"flowcam/video/sink"
)

// History keeps copies of the most recent frames, up to MaxAge old.
type History struct {
	MaxAge time.Duration

	// frames contains image history, oldest first.
	frames []sink.Frame
	free   []*video.Image
}

func NewHistory(maxAge time.Duration) *History {
	return &History{MaxAge: maxAge}
}

func (h *History) alloc(f video.Format) *video.Image {
	for len(h.free) > 0 {
		img := h.free[len(h.free)-1]
		h.free = h.free[:len(h.free)-1]
		if img.Format() == f {
			return img
		}
	}
	return video.NewImage(f)
}

func (h *History) Put(in sink.Frame) {
	img := h.alloc(in.Format())
	img.CopyFrom(in.Image)
	h.frames = append(h.frames, sink.Frame{Image: img, Time: in.Time, Seq: in.Seq})

	// Clear out old images from head.
	n := 0
	for n < len(h.frames) && in.Time.Sub(h.frames[n].Time) >= h.MaxAge {
		h.free = append(h.free, h.frames[n].Image)
		n++
	}
	h.frames = append(h.frames[:0], h.frames[n:]...)
}

func (h *History) Len() int {
	return len(h.frames)
}

// Last returns the newest frame. The image stays owned by the history.
func (h *History) Last() (sink.Frame, bool) {
	if len(h.frames) == 0 {
		return sink.Frame{}, false
	}
	return h.frames[len(h.frames)-1], true
}

func (h *History) FlushToSink(s sink.Sink) {
	for _, f := range h.frames {
		s.Put(f)
	}
}
