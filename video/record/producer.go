package record

import (
	"image"
	"os"

	log "github.com/sirupsen/logrus"

	"flowcam/video/sink"
)

var thumbSize = image.Point{X: 230, Y: 135}

// ClipProducer records each trigger into a new clip of the Filesystem: a
// thumbnail of the trigger frame plus an FFmpeg encoded video, and a preview
// when VThumbProducer is set.
type ClipProducer struct {
	FFmpegOptions  sink.FFmpegOptions
	Filesystem     *Filesystem
	VThumbProducer *VThumbProducer
}

type clipSink struct {
	sink sink.Sink
	clip *Clip
	p    *ClipProducer
}

func (p *ClipProducer) New(trigger sink.Frame) (sink.Sink, error) {
	c := p.Filesystem.NewClip(trigger.Time)

	if jpeg, err := sink.EncodeThumbnail(trigger.Image, thumbSize); err != nil {
		log.Errorf("failed to generate thumbnail: %v", err)
	} else if err := os.WriteFile(c.ThumbPath, jpeg, 0644); err != nil {
		log.Errorf("failed to write thumbnail: %v", err)
	} else {
		log.Infof("thumbnail written to %v", c.ThumbPath)
	}

	o := p.FFmpegOptions
	o.Format = trigger.Format()
	if o.FPS == 0 {
		o.FPS = sink.DefaultFPS
	}
	f, err := sink.NewFFmpegSink(c.VideoPath, o)
	if err != nil {
		return nil, err
	}

	return &clipSink{
		// Ensure video is output with constant FPS.
		sink: sink.NewFPSNormalize(f, o.FPS),
		clip: c,
		p:    p,
	}, nil
}

func (w *clipSink) Put(f sink.Frame) {
	w.sink.Put(f)
}

func (w *clipSink) refresh() {
	if err := w.p.Filesystem.Refresh(); err != nil {
		log.Errorf("failed to refresh clips: %v", err)
	}
}

func (w *clipSink) Close() {
	w.sink.Close()
	w.refresh()
	log.WithField("clip", w.clip.ID).Infof("Recording complete")

	if w.p.VThumbProducer == nil {
		return
	}
	if c := w.p.VThumbProducer.Process(w.clip.VideoPath, w.clip.VThumbPath); c != nil {
		go func() {
			if <-c {
				w.refresh()
			}
		}()
	}
}
