package sink

import (
	"fmt"
	"time"

	"flowcam/video"
)

// Frame is one image handed to a Sink. The image belongs to an upstream slot
// and is only valid for the duration of Put.
type Frame struct {
	*video.Image
	Time time.Time
	Seq  uint64
}

// Sink defines a destination for a stream of images, such as a video file or
// an MJPEG stream.
type Sink interface {
	// Put inserts a frame to the sink. The sink must not modify the image and
	// must not hold any references to it after returning.
	Put(f Frame)

	// Close should be called to finalize the Sink.
	Close()
}

// NewDrain creates a consuming stage that hands image index of every upstream
// slot to each of the sinks, in order.
func NewDrain(name string, upstream video.Stage, index int, sinks ...Sink) (*video.Processor, error) {
	if index < 0 || index >= upstream.ImagesPerSlot() {
		return nil, fmt.Errorf("drain %q: upstream %q has no image %d", name, upstream.Name(), index)
	}
	return video.NewProcessor(video.ProcessorOptions{
		Name:     name,
		Upstream: []video.Stage{upstream},
	}, func(in []*video.Slot, _ *video.Slot) {
		f := Frame{
			Image: in[0].Images[index],
			Time:  in[0].Time,
			Seq:   in[0].Seq,
		}
		for _, s := range sinks {
			s.Put(f)
		}
	})
}
