package sink

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pillash/mp4util"
	log "github.com/sirupsen/logrus"

	"flowcam/video"
)

const DefaultFPS = 30

type FFmpegOptions struct {
	// Binary is the ffmpeg executable, see util.LocateFFmpeg.
	Binary string
	Format video.Format
	FPS    int
	// Preset and CRF tune libx264. Defaults are "superfast" and 30.
	Preset string
	CRF    int
	// Debug forwards ffmpeg output to our stdout and stderr.
	Debug bool
}

func (o *FFmpegOptions) defaults() {
	if o.Binary == "" {
		o.Binary = "ffmpeg"
	}
	if o.FPS == 0 {
		o.FPS = DefaultFPS
	}
	if o.Preset == "" {
		o.Preset = "superfast"
	}
	if o.CRF == 0 {
		o.CRF = 30
	}
}

func rawPixelFormat(p video.PixelFormat) (string, error) {
	switch p {
	case video.PixFmtY8:
		return "gray", nil
	case video.PixFmtRGB8:
		return "rgb24", nil
	}
	return "", fmt.Errorf("ffmpeg input %v: %w", p, video.ErrBadFormat)
}

// FFmpegSink pipes raw frames into an ffmpeg process which encodes them to
// an h264 mp4 file.
type FFmpegSink struct {
	Path string

	b     chan []byte
	close chan chan bool
	cmd   *exec.Cmd
}

func NewFFmpegSink(path string, o FFmpegOptions) (*FFmpegSink, error) {
	o.defaults()
	pixfmt, err := rawPixelFormat(o.Format.PixelFormat)
	if err != nil {
		return nil, err
	}

	c := exec.Command(
		o.Binary,
		// Configure ffmpeg to read raw frames from the pipe.
		"-f", "rawvideo",
		"-pixel_format", pixfmt,
		"-video_size", fmt.Sprintf("%dx%d", o.Format.Width, o.Format.Height),
		"-framerate", fmt.Sprintf("%d", o.FPS),
		"-i", "-", // Read from stdin.
		// Use h264 encoding with reasonable quality and speed. Note that
		// "preset" can be adjusted if the system is too slow to handle encoding.
		"-c:v", "libx264",
		"-preset", o.Preset,
		"-crf", fmt.Sprintf("%d", o.CRF),
		"-pix_fmt", "yuv420p",
		// Enable fast-start so videos can be displayed in the browser without
		// full download.
		"-movflags", "+faststart",
		"-y",
		path,
	)
	if o.Debug {
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
	}

	pipe, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	f := &FFmpegSink{
		Path:  path,
		b:     make(chan []byte),
		close: make(chan chan bool),
		cmd:   c,
	}
	go func() {
		broken := false
		var closer chan bool
	loop:
		for {
			select {
			case closer = <-f.close:
				pipe.Close()
				break loop
			case b := <-f.b:
				if broken {
					continue
				}
				if _, err := pipe.Write(b); err != nil {
					log.WithField("path", path).Errorf("Error writing to ffmpeg pipe: %v", err)
					broken = true
				}
			}
		}

		log.WithField("path", path).Infof("Waiting for FFMPEG shutdown.")
		start := time.Now()
		err := c.Wait()
		log.WithField("path", path).Infof("FFMPEG exit with status %v after %v", err, time.Since(start))
		if err == nil {
			if d, err := mp4util.Duration(path); err == nil {
				log.WithField("path", path).Infof("Wrote %d seconds of video", d)
			}
		}
		closer <- true // Signal close is completed.
	}()
	return f, nil
}

func (f *FFmpegSink) Close() {
	c := make(chan bool)
	f.close <- c
	<-c
}

func (f *FFmpegSink) Put(input Frame) {
	f.b <- append([]byte(nil), input.Uint8()...)
}
