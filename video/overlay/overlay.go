package overlay

import (
	"fmt"
	"image"
	"image/color"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"flowcam/video"
	"flowcam/video/process"
	"flowcam/video/sink"
)

var (
	colorTime  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBG    = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	colorArrow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	colorCrop  = color.RGBA{R: 0, G: 160, B: 255, A: 255}
)

// DefaultArrowScale is the arrow length in pixels per pixel of motion.
const DefaultArrowScale = 20

// FlowSource provides the motion sample to draw, usually a MotionEstimator.
type FlowSource interface {
	Latest() process.MotionSample
}

type Options struct {
	// Label prefixes the timestamp.
	Label string
	// ArrowScale defaults to DefaultArrowScale.
	ArrowScale float64
	// Crop, if not empty, is outlined.
	Crop        image.Rectangle
	BufferSlots int
}

// Overlay annotates RGB8 frames with a timestamp and the latest motion
// estimate, drawn as an arrow from the frame center.
type Overlay struct {
	*video.Processor
	flow FlowSource
	opts Options
}

func New(upstream video.Stage, flow FlowSource, opts Options) (*Overlay, error) {
	f := upstream.Format(0)
	if f.PixelFormat != video.PixFmtRGB8 {
		return nil, fmt.Errorf("overlay input %v: %w", f.PixelFormat, video.ErrBadFormat)
	}
	if opts.ArrowScale == 0 {
		opts.ArrowScale = DefaultArrowScale
	}
	o := &Overlay{flow: flow, opts: opts}
	p, err := video.NewProcessor(video.ProcessorOptions{
		Name:        "overlay",
		Upstream:    []video.Stage{upstream},
		Formats:     []video.Format{f},
		BufferSlots: opts.BufferSlots,
	}, o.draw)
	if err != nil {
		return nil, err
	}
	o.Processor = p
	return o, nil
}

// Arrow returns the end points of the motion arrow for a frame of the given
// size.
func (o *Overlay) Arrow(s process.MotionSample, width, height int) (image.Point, image.Point) {
	c := image.Point{X: width / 2, Y: height / 2}
	tip := image.Point{
		X: c.X + int(float64(s.OutputHx)*o.opts.ArrowScale),
		Y: c.Y + int(float64(s.OutputHy)*o.opts.ArrowScale),
	}
	return c, tip
}

func (o *Overlay) draw(in []*video.Slot, out *video.Slot) {
	img := out.Images[0]
	img.CopyFrom(in[0].Images[0])

	m, err := sink.ToMat(img)
	if err != nil {
		log.WithField("stage", o.Name()).Errorf("Unable to draw overlay: %v", err)
		return
	}
	defer m.Close()

	f := img.Format()
	if !o.opts.Crop.Empty() {
		gocv.Rectangle(&m, o.opts.Crop, colorCrop, 1)
	}
	s := o.flow.Latest()
	if c, tip := o.Arrow(s, f.Width, f.Height); c != tip {
		gocv.ArrowedLine(&m, c, tip, colorArrow, 2)
	}
	o.drawTimestamp(&m, in[0])

	gocv.CvtColor(m, &m, gocv.ColorBGRToRGB)
	b, err := m.DataPtrUint8()
	if err != nil {
		log.WithField("stage", o.Name()).Errorf("Unable to read overlay: %v", err)
		return
	}
	copy(img.Uint8(), b)
}

// drawTimestamp draws the frame time in the top left corner.
func (o *Overlay) drawTimestamp(m *gocv.Mat, s *video.Slot) {
	text := s.Time.Format("2006-01-02 15:04:05.000 MST")
	if o.opts.Label != "" {
		text = o.opts.Label + " - " + text
	}

	font := gocv.FontHersheySimplex
	scale := 0.5
	thickness := 1

	sz := gocv.GetTextSize(text, font, scale, thickness)

	pad := 2

	gocv.Rectangle(m, image.Rectangle{Min: image.Point{X: 0, Y: 0}, Max: image.Point{X: sz.X + pad*2, Y: sz.Y + pad*2}}, colorBG, -1)

	gocv.PutText(m, text, image.Point{X: pad, Y: sz.Y + pad}, font, scale, colorTime, thickness)
}
