package process

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// welford keeps a running mean and sum of squared deviations of the flow
// magnitude at every pixel of the uncropped frame.
type welford struct {
	w, h int
	n    uint64
	mean []float64
	m2   []float64
}

func newWelford(w, h int) *welford {
	return &welford{
		w:    w,
		h:    h,
		mean: make([]float64, w*h),
		m2:   make([]float64, w*h),
	}
}

// add folds one frame of level 0 flow, placed at (x0,y0) of the frame, into
// the accumulator.
func (a *welford) add(f *flowField, x0, y0 int) {
	a.n++
	n := float64(a.n)
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			o := y*f.w + x
			v := math.Hypot(float64(f.hx[o]), float64(f.hy[o]))
			u := (y+y0)*a.w + x + x0
			delta := v - a.mean[u]
			a.mean[u] += delta / n
			a.m2[u] += delta * (v - a.mean[u])
		}
	}
}

// VarianceMap is a snapshot of the per-pixel flow magnitude variance.
type VarianceMap struct {
	Width, Height int
	// Samples is the number of frames accumulated.
	Samples uint64
	Data    []float32
}

func (a *welford) snapshot() *VarianceMap {
	v := &VarianceMap{
		Width:   a.w,
		Height:  a.h,
		Samples: a.n,
		Data:    make([]float32, a.w*a.h),
	}
	if a.n < 2 {
		return v
	}
	d := float64(a.n - 1)
	for i, m2 := range a.m2 {
		v.Data[i] = float32(m2 / d)
	}
	return v
}

// Summary returns the mean and variance of the per-pixel variances.
func (v *VarianceMap) Summary() (mean, variance float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	x := make([]float64, len(v.Data))
	for i, d := range v.Data {
		x[i] = float64(d)
	}
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanVariance(x, nil)
}

// WriteTo writes the little endian dump: uint32 width, uint32 height, then
// width*height float32 variances in row-major order.
func (v *VarianceMap) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	hdr := [2]uint32{uint32(v.Width), uint32(v.Height)}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return 0, err
	}
	if err := binary.Write(bw, binary.LittleEndian, v.Data); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return int64(8 + 4*len(v.Data)), nil
}

// Dumps larger than this are rejected before allocating.
const maxVarianceSamples = 1 << 28

// ReadVarianceMap parses a dump written by WriteTo.
func ReadVarianceMap(r io.Reader) (*VarianceMap, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("variance header: %w", err)
	}
	n := uint64(hdr[0]) * uint64(hdr[1])
	if n == 0 || n > maxVarianceSamples {
		return nil, fmt.Errorf("variance header %dx%d: %w", hdr[0], hdr[1], ErrBadDimensions)
	}
	v := &VarianceMap{
		Width:  int(hdr[0]),
		Height: int(hdr[1]),
		Data:   make([]float32, n),
	}
	if err := binary.Read(r, binary.LittleEndian, v.Data); err != nil {
		return nil, fmt.Errorf("variance data: %w", err)
	}
	return v, nil
}

// grid adapts a VarianceMap to plotter.GridXYZ with row 0 at the top.
type grid struct {
	v *VarianceMap
}

func (g grid) Dims() (c, r int) { return g.v.Width, g.v.Height }
func (g grid) X(c int) float64 { return float64(c) }
func (g grid) Y(r int) float64 { return float64(r) }
func (g grid) Z(c, r int) float64 { return float64(g.v.Data[(g.v.Height-1-r)*g.v.Width+c]) }

// WriteHeatmap renders the map as a PNG of size width x height points.
func (v *VarianceMap) WriteHeatmap(w io.Writer, width, height vg.Length) error {
	if v.Width == 0 || v.Height == 0 {
		return fmt.Errorf("empty variance map")
	}
	hm := plotter.NewHeatMap(grid{v}, palette.Heat(64, 1))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Flow variance, %d frames", v.Samples)
	p.HideAxes()
	p.Add(hm)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// Variance snapshots the variance map. It waits for any frame in progress.
func (m *MotionEstimator) Variance() *VarianceMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variance.snapshot()
}

func (m *MotionEstimator) WriteVariance(w io.Writer) error {
	_, err := m.Variance().WriteTo(w)
	return err
}

// SaveVariance writes the variance dump to path.
func (m *MotionEstimator) SaveVariance(path string) error {
	return saveFile(path, m.WriteVariance)
}

// SaveVarianceHeatmap renders the variance map to a PNG at path.
func (m *MotionEstimator) SaveVarianceHeatmap(path string) error {
	v := m.Variance()
	return saveFile(path, func(w io.Writer) error {
		return v.WriteHeatmap(w, vg.Length(v.Width)*2, vg.Length(v.Height)*2)
	})
}

func saveFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
