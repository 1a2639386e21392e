package process

// level is one tier of the dyadic image pyramid. Planes are row-major,
// w*h samples each.
type level struct {
	w, h int

	img      []float32
	ref      []float32
	dx, dy   []float32
	dSqRecip []float32
}

func newLevel(w, h int) *level {
	n := w * h
	return &level{
		w:        w,
		h:        h,
		img:      make([]float32, n),
		ref:      make([]float32, n),
		dx:       make([]float32, n),
		dy:       make([]float32, n),
		dSqRecip: make([]float32, n),
	}
}

// flowField holds the per-pixel displacement of one level.
type flowField struct {
	w, h   int
	hx, hy []float32
}

func newFlowField(w, h int) *flowField {
	return &flowField{
		w:  w,
		h:  h,
		hx: make([]float32, w*h),
		hy: make([]float32, w*h),
	}
}

// pyramid owns every plane the estimator mutates between frames.
type pyramid struct {
	levels []*level
	// flows has one entry more than levels; the extra coarsest entry stays
	// zero and seeds the coarse-to-fine solve.
	flows   []*flowField
	scratch []float32
}

func newPyramid(wc, hc, numLevels int) *pyramid {
	p := &pyramid{
		levels:  make([]*level, numLevels),
		flows:   make([]*flowField, numLevels+1),
		scratch: make([]float32, 2*wc*hc),
	}
	for l := 0; l < numLevels; l++ {
		p.levels[l] = newLevel(wc>>l, hc>>l)
		p.flows[l] = newFlowField(wc>>l, hc>>l)
	}
	last := p.levels[numLevels-1]
	p.flows[numLevels] = newFlowField((last.w+1)/2, (last.h+1)/2)
	return p
}

// blendReference folds the previous image of the level into its reference.
func (l *level) blendReference(alpha float32) {
	for i, v := range l.img {
		l.ref[i] = l.ref[i]*(1-alpha) + v*alpha
	}
}

// ingest copies the crop window of a full-size frame into the level.
func (l *level) ingest(src []float32, stride, x0, y0 int) {
	for y := 0; y < l.h; y++ {
		o := (y+y0)*stride + x0
		copy(l.img[y*l.w:(y+1)*l.w], src[o:o+l.w])
	}
}

// decimate low-pass filters fine into l at half resolution, horizontally
// into scratch first. Edge samples are replicated.
func (l *level) decimate(fine *level, scratch []float32) {
	fw, fh := fine.w, fine.h
	for y := 0; y < fh; y++ {
		row := fine.img[y*fw : (y+1)*fw]
		out := scratch[y*l.w : (y+1)*l.w]
		for x := range out {
			x0 := 2*x - decimateOrigin
			var v float32
			for k, t := range decimateTaps {
				v += row[clamp(x0+k, 0, fw-1)] * t
			}
			out[x] = v
		}
	}
	for y := 0; y < l.h; y++ {
		y0 := 2*y - decimateOrigin
		out := l.img[y*l.w : (y+1)*l.w]
		for x := range out {
			var v float32
			for k, t := range decimateTaps {
				v += scratch[clamp(y0+k, 0, fh-1)*l.w+x] * t
			}
			out[x] = v
		}
	}
}

// gradients computes Scharr derivatives over interior pixels along with the
// inverse squared gradient magnitude used to condition the flow update.
func (l *level) gradients() {
	w := l.w
	for y := 1; y < l.h-1; y++ {
		for x := 1; x < w-1; x++ {
			o := y*w + x
			v1, v2, v3 := l.img[o-w-1], l.img[o-w], l.img[o-w+1]
			v4, v6 := l.img[o-1], l.img[o+1]
			v7, v8, v9 := l.img[o+w-1], l.img[o+w], l.img[o+w+1]

			dx := (v3-v1)*(3.0/32) + (v6-v4)*(10.0/32) + (v9-v7)*(3.0/32)
			dy := (v7-v1)*(3.0/32) + (v8-v2)*(10.0/32) + (v9-v3)*(3.0/32)

			l.dx[o] = dx
			l.dy[o] = dy
			l.dSqRecip[o] = 1 / (dx*dx + dy*dy + 1e-7)
		}
	}
}
