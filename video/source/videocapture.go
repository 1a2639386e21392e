package source

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"flowcam/video"
)

// Capture is considered disconnected when no frame arrived for this long.
const connectedTimeout = 5 * time.Second

type CaptureOptions struct {
	// PixelFormat is PixFmtY8 (default) or PixFmtRGB8.
	PixelFormat video.PixelFormat
	// FPS paces reads when positive. Use it for file sources, which would
	// otherwise be read as fast as possible.
	FPS         int
	BufferSlots int
}

// VideoCapture reads frames from a camera URI or a video file with OpenCV.
// Capture runs on its own goroutine; Trigger publishes the newest captured
// frame and frames that arrive while the output is full are dropped.
type VideoCapture struct {
	URI string

	cap    *gocv.VideoCapture
	out    *video.FrameBuffer
	format video.Format
	probe  *video.StatsProbe
	opts   CaptureOptions

	lock     sync.Mutex
	pending  []byte
	captured time.Time
	fresh    bool
	lastRead time.Time
	dropped  uint64

	close chan chan bool
}

func NewVideoCapture(uri string, opts CaptureOptions) (*VideoCapture, error) {
	if opts.PixelFormat != video.PixFmtY8 && opts.PixelFormat != video.PixFmtRGB8 {
		return nil, fmt.Errorf("capture %v: %w", opts.PixelFormat, video.ErrBadFormat)
	}
	if opts.BufferSlots == 0 {
		opts.BufferSlots = video.DefaultBufferSlots
	}

	cap, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, fmt.Errorf("open video capture %q: %w", uri, err)
	}

	// Fetch a frame first to learn the size.
	m := gocv.NewMat()
	defer m.Close()
	if ok := cap.Read(&m); !ok || m.Empty() {
		cap.Close()
		return nil, fmt.Errorf("no frame from %q", uri)
	}

	v := &VideoCapture{
		URI:  uri,
		cap:  cap,
		opts: opts,
		format: video.Format{
			Width:       m.Cols(),
			Height:      m.Rows(),
			PixelFormat: opts.PixelFormat,
		},
		probe:    video.NewStatsProbe("capture"),
		lastRead: time.Now(),
		close:    make(chan chan bool),
	}
	v.out, err = video.NewFrameBuffer(opts.BufferSlots, v.format)
	if err != nil {
		cap.Close()
		return nil, err
	}
	v.pending = make([]byte, v.format.Len())
	log.WithField("uri", uri).Infof("Opened video capture, %v", v.format)

	go v.loop()
	return v, nil
}

func (v *VideoCapture) Name() string { return "capture" }
func (v *VideoCapture) Output() *video.FrameBuffer { return v.out }
func (v *VideoCapture) Format(i int) video.Format { return v.format }
func (v *VideoCapture) ImagesPerSlot() int { return 1 }

func (v *VideoCapture) loop() {
	frame := gocv.NewMat()
	defer frame.Close()
	conv := gocv.NewMat()
	defer conv.Close()

	code := gocv.ColorBGRToGray
	if v.opts.PixelFormat == video.PixFmtRGB8 {
		code = gocv.ColorBGRToRGB
	}

	var pace <-chan time.Time
	if v.opts.FPS > 0 {
		t := time.NewTicker(time.Second / time.Duration(v.opts.FPS))
		defer t.Stop()
		pace = t.C
	}

	for {
		select {
		case c := <-v.close:
			v.cap.Close()
			c <- true
			return
		default:
		}
		if pace != nil {
			select {
			case <-pace:
			case c := <-v.close:
				v.cap.Close()
				c <- true
				return
			}
		}

		now := time.Now()
		if ok := v.cap.Read(&frame); !ok || frame.Empty() {
			// TODO reopen the capture after repeated failures.
			log.WithField("uri", v.URI).Warnf("Read failure.")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		gocv.CvtColor(frame, &conv, code)
		b, err := conv.DataPtrUint8()
		if err != nil {
			log.WithField("uri", v.URI).Errorf("Unable to access frame data: %v", err)
			continue
		}

		v.lock.Lock()
		if len(b) != len(v.pending) {
			v.lock.Unlock()
			log.WithField("uri", v.URI).Errorf("Frame size changed mid-stream (%d bytes, expected %d)", len(b), len(v.pending))
			continue
		}
		if v.fresh {
			v.dropped++
		}
		copy(v.pending, b)
		v.captured = now
		v.lastRead = now
		v.fresh = true
		v.lock.Unlock()
	}
}

// Trigger publishes the most recently captured frame, if it has not been
// published yet and there is room downstream.
func (v *VideoCapture) Trigger() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	if !v.fresh {
		return false
	}
	s, ok := v.out.ReserveWrite()
	if !ok {
		return false
	}
	v.probe.Measure(func() {
		copy(s.Images[0].Uint8(), v.pending)
		s.Time = v.captured
	})
	v.fresh = false
	v.out.Release(s)
	return true
}

// Dropped returns the number of captured frames that were overwritten
// before being published.
func (v *VideoCapture) Dropped() uint64 {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.dropped
}

func (v *VideoCapture) Connected() bool {
	v.lock.Lock()
	defer v.lock.Unlock()
	return time.Since(v.lastRead) < connectedTimeout
}

func (v *VideoCapture) Close() {
	c := make(chan bool)
	v.close <- c
	<-c
}
