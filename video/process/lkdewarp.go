package process

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"flowcam/video"
)

var (
	ErrBadDimensions = errors.New("image too small for pyramid depth")
	ErrBadOption     = errors.New("invalid motion estimator option")
	ErrStarted       = errors.New("motion estimator already processing frames")
)

// Mode selects how the estimated flow is applied to the output image.
type Mode uint8

const (
	// ModeNoTransform passes frames through untouched; flow is still estimated.
	ModeNoTransform Mode = iota + 1
	// ModeCropFilterSubpixelStab compensates the flow minus its burned drift.
	ModeCropFilterSubpixelStab
	// ModeSubpixelStab compensates the full flow with bilinear sampling.
	ModeSubpixelStab
	// ModeIntStab compensates the flow rounded to whole pixels.
	ModeIntStab
)

var modeNames = map[Mode]string{
	ModeNoTransform:            "notransform",
	ModeCropFilterSubpixelStab: "cropfilter",
	ModeSubpixelStab:           "subpixel",
	ModeIntStab:                "int",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

func ParseMode(s string) (Mode, error) {
	for m, n := range modeNames {
		if strings.EqualFold(s, n) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrBadOption, s)
}

const (
	DefaultLevels         = 4
	DefaultRefImageFilter = 0.1

	// Frames blended into the reference with weight 1 before the filter
	// constant applies.
	warmupFrames = 3
	// Frames skipped before flow magnitudes are accumulated into the
	// variance map.
	varianceWarmupFrames = 10
)

type MotionOptions struct {
	Name string
	// Levels is the pyramid depth.
	Levels int
	// RefImageFilter is the steady-state weight of a new frame in the
	// per-level reference image.
	RefImageFilter float32
	// SuperResolution refines level 0 and accumulates a 2x output.
	SuperResolution bool
	Mode            Mode
	// BurnFx and BurnFy damp the exported output transform, 0 disables.
	BurnFx, BurnFy   float32
	VarianceTracking bool
	BufferSlots      int
}

func (o *MotionOptions) defaults() {
	if o.Name == "" {
		o.Name = "lkdewarp"
	}
	if o.Levels == 0 {
		o.Levels = DefaultLevels
	}
	if o.RefImageFilter == 0 {
		o.RefImageFilter = DefaultRefImageFilter
	}
	if o.Mode == 0 {
		o.Mode = ModeSubpixelStab
	}
}

func validBurn(f float32) bool {
	return f >= 0 && f <= 1
}

func (o *MotionOptions) validate() error {
	if o.Levels < 1 || o.Levels > 16 {
		return fmt.Errorf("%w: %d pyramid levels", ErrBadOption, o.Levels)
	}
	if !(o.RefImageFilter > 0 && o.RefImageFilter <= 1) {
		return fmt.Errorf("%w: reference filter %v not in (0,1]", ErrBadOption, o.RefImageFilter)
	}
	if !validBurn(o.BurnFx) || !validBurn(o.BurnFy) {
		return fmt.Errorf("%w: burn (%v,%v) not in [0,1]", ErrBadOption, o.BurnFx, o.BurnFy)
	}
	if _, ok := modeNames[o.Mode]; !ok {
		return fmt.Errorf("%w: %v", ErrBadOption, o.Mode)
	}
	if o.SuperResolution && (o.Mode == ModeIntStab || o.Mode == ModeNoTransform) {
		return fmt.Errorf("%w: super resolution needs a subpixel mode, not %v", ErrBadOption, o.Mode)
	}
	return nil
}

// CropSize returns the largest window of a width x height frame whose sides
// halve exactly down to the coarsest of levels pyramid levels.
func CropSize(width, height, levels int) (int, int) {
	return (width >> (levels - 1)) << (levels - 1), (height >> (levels - 1)) << (levels - 1)
}

// MotionSample summarises the flow of one frame. Hx, Hy is the mean level 0
// displacement over the crop window; OutputHx, OutputHy is that mean with the
// burned drift removed.
type MotionSample struct {
	Frame    uint64    `json:"frame"`
	Hx       float32   `json:"hx"`
	Hy       float32   `json:"hy"`
	OutputHx float32   `json:"output_hx"`
	OutputHy float32   `json:"output_hy"`
	Time     time.Time `json:"time"`
}

// Magnitude is the length of the output transform.
func (s MotionSample) Magnitude() float64 {
	return math.Hypot(float64(s.OutputHx), float64(s.OutputHy))
}

// MotionEstimator is a pyramidal Lucas-Kanade dewarping stage. It estimates
// dense flow between each frame and an exponentially filtered reference and
// produces a motion compensated, temporally accumulated output.
type MotionEstimator struct {
	*video.Processor

	opts MotionOptions

	width, height int
	cropW, cropH  int
	cropX, cropY  int

	// Guarded by mu, which spans the whole per-frame computation.
	mu       sync.Mutex
	frame    uint64
	pyr      *pyramid
	final    []float32
	finalSR  []float32
	driftX   float32
	driftY   float32
	variance *welford

	mailbox *mailbox
}

// NewMotionEstimator builds the stage and allocates every buffer it will
// use. upstream must produce float luma on image 0.
func NewMotionEstimator(upstream video.Stage, opts MotionOptions) (*MotionEstimator, error) {
	opts.defaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	in := upstream.Format(0)
	if in.PixelFormat != video.PixFmtYF32 {
		return nil, fmt.Errorf("motion estimator input %v: %w", in, video.ErrBadFormat)
	}
	if need := 1 << opts.Levels; in.Width < need || in.Height < need {
		return nil, fmt.Errorf("%w: %dx%d with %d levels needs at least %dx%d",
			ErrBadDimensions, in.Width, in.Height, opts.Levels, need, need)
	}

	m := &MotionEstimator{
		opts:    opts,
		width:   in.Width,
		height:  in.Height,
		mailbox: newMailbox(),
	}
	m.cropW, m.cropH = CropSize(in.Width, in.Height, opts.Levels)
	m.cropX, m.cropY = (in.Width-m.cropW)/2, (in.Height-m.cropH)/2

	m.pyr = newPyramid(m.cropW, m.cropH, opts.Levels)
	m.final = make([]float32, m.cropW*m.cropH)
	if opts.SuperResolution {
		m.finalSR = make([]float32, 4*m.cropW*m.cropH)
	}
	m.variance = newWelford(in.Width, in.Height)

	p, err := video.NewProcessor(video.ProcessorOptions{
		Name:        opts.Name,
		Upstream:    []video.Stage{upstream},
		Formats:     []video.Format{in},
		BufferSlots: opts.BufferSlots,
	}, m.process)
	if err != nil {
		return nil, err
	}
	m.Processor = p

	log.WithField("stage", opts.Name).Infof("Motion estimator %v, crop %dx%d at (%d,%d), %d levels, mode %v, super resolution %v",
		in, m.cropW, m.cropH, m.cropX, m.cropY, opts.Levels, opts.Mode, opts.SuperResolution)
	return m, nil
}

// Crop returns the processed window within the input frame.
func (m *MotionEstimator) Crop() (x, y, w, h int) {
	return m.cropX, m.cropY, m.cropW, m.cropH
}

func (m *MotionEstimator) Options() MotionOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// SetOutputTransformBurn changes the burn factors. Only allowed before the
// first frame.
func (m *MotionEstimator) SetOutputTransformBurn(fx, fy float32) error {
	if !validBurn(fx) || !validBurn(fy) {
		return fmt.Errorf("%w: burn (%v,%v) not in [0,1]", ErrBadOption, fx, fy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame > 0 {
		return ErrStarted
	}
	m.opts.BurnFx, m.opts.BurnFy = fx, fy
	return nil
}

// EnableVarianceTracking switches the per-pixel flow variance map on or off.
// Only allowed before the first frame.
func (m *MotionEstimator) EnableVarianceTracking(enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame > 0 {
		return ErrStarted
	}
	m.opts.VarianceTracking = enable
	return nil
}

// LatestFlow returns the mean flow of the most recent frame. It does not
// wait for a frame in progress.
func (m *MotionEstimator) LatestFlow() (hx, hy float32, frame uint64) {
	s := m.mailbox.latest()
	return s.Hx, s.Hy, s.Frame
}

func (m *MotionEstimator) Latest() MotionSample {
	return m.mailbox.latest()
}

// Subscribe returns a channel carrying the newest sample after every frame.
// Slow subscribers only ever see the latest one. Call the returned func to
// unsubscribe.
func (m *MotionEstimator) Subscribe() (<-chan MotionSample, func()) {
	return m.mailbox.subscribe()
}

// SuperResolved returns a copy of the 2x accumulation, or nil when super
// resolution is disabled.
func (m *MotionEstimator) SuperResolved() *video.Image {
	if m.finalSR == nil {
		return nil
	}
	img := video.NewImage(video.Format{Width: 2 * m.cropW, Height: 2 * m.cropH, PixelFormat: video.PixFmtYF32})
	m.mu.Lock()
	copy(img.Float32(), m.finalSR)
	m.mu.Unlock()
	return img
}

func (m *MotionEstimator) process(in []*video.Slot, out *video.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := in[0].Images[0].Float32()
	dst := out.Images[0]

	alpha := m.opts.RefImageFilter
	if m.frame < warmupFrames {
		alpha = 1
	}

	// Each reference absorbs its level's previous image before the level is
	// overwritten with the new frame.
	p := m.pyr
	p.levels[0].blendReference(alpha)
	p.levels[0].ingest(src, m.width, m.cropX, m.cropY)
	p.levels[0].gradients()
	for l := 1; l < len(p.levels); l++ {
		p.levels[l].blendReference(alpha)
		p.levels[l].decimate(p.levels[l-1], p.scratch)
		p.levels[l].gradients()
	}

	p.solve(m.opts.SuperResolution)

	if m.opts.VarianceTracking && m.frame >= varianceWarmupFrames {
		m.variance.add(p.flows[0], m.cropX, m.cropY)
	}

	hx, hy := p.flows[0].mean()
	m.driftX += m.opts.BurnFx * (hx - m.driftX)
	m.driftY += m.opts.BurnFy * (hy - m.driftY)

	dst.CopyFrom(in[0].Images[0])
	if m.opts.Mode != ModeNoTransform {
		m.compensate()
		d := dst.Float32()
		for y := 0; y < m.cropH; y++ {
			o := (y+m.cropY)*m.width + m.cropX
			copy(d[o:o+m.cropW], m.final[y*m.cropW:(y+1)*m.cropW])
		}
	}
	if m.finalSR != nil {
		m.superResolve()
	}

	m.mailbox.publish(MotionSample{
		Frame:    m.frame,
		Hx:       hx,
		Hy:       hy,
		OutputHx: hx - m.driftX,
		OutputHy: hy - m.driftY,
		Time:     in[0].Time,
	})
	m.frame++
}
