package process

import (
	"math"
)

const (
	refineIterations = 7
	// Pixels whose squared gradient magnitude is below 1/maxDSqRecip are too
	// flat to constrain the flow and are skipped by the update.
	maxDSqRecip = 1 / 0.0005
)

// seed initialises f by upsampling the coarser field by two and doubling the
// displacement. Each fine pixel sits a quarter pixel from its nearest coarse
// sample, so the weights are 0.75/0.25.
func (f *flowField) seed(coarse *flowField) {
	for y := 0; y < f.h; y++ {
		yl := y>>1 - 1 + y&1
		fy := 0.75 - 0.5*float32(y&1)
		for x := 0; x < f.w; x++ {
			xl := x>>1 - 1 + x&1
			fx := 0.75 - 0.5*float32(x&1)
			o := y*f.w + x
			f.hx[o] = bilinearClamped(coarse.hx, coarse.w, coarse.h, xl, yl, fx, fy) * 2
			f.hy[o] = bilinearClamped(coarse.hy, coarse.w, coarse.h, xl, yl, fx, fy) * 2
		}
	}
}

// inRefineBounds reports whether the displaced sample at (sx,sy) keeps two
// pixels of margin on every side of a w by h level.
func inRefineBounds(sx, sy, w, h int) bool {
	return sx > 1 && sy > 1 && sx+2 < w && sy+2 < h
}

// refine runs the fixed-point flow update against the level's reference,
// regularising the field after every pass.
func (f *flowField) refine(l *level, scratch []float32) {
	w, h := l.w, l.h
	for i := 0; i < refineIterations; i++ {
		for y := 1; y < h-1; y++ {
			for x := 1; x < w-1; x++ {
				o := y*w + x
				dSqRecip := l.dSqRecip[o]
				if dSqRecip >= maxDSqRecip {
					continue
				}
				hx, hy := f.hx[o], f.hy[o]
				flx := float32(math.Floor(float64(hx)))
				fly := float32(math.Floor(float64(hy)))
				sx, sy := x+int(flx), y+int(fly)
				if !inRefineBounds(sx, sy, w, h) {
					continue
				}
				diff := l.img[o] - bilinear(l.ref, w, sx, sy, hx-flx, hy-fly)
				f.hx[o] = hx + diff*l.dx[o]*dSqRecip
				f.hy[o] = hy + diff*l.dy[o]*dSqRecip
			}
		}
		f.smooth(scratch)
	}
}

// smooth applies the separable flow regulariser in place. hx is staged in
// scratch[0:n], hy in scratch[n:2n].
func (f *flowField) smooth(scratch []float32) {
	w, h := f.w, f.h
	n := w * h
	sx, sy := scratch[:n], scratch[n:2*n]
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var vx, vy float32
			for k, t := range smoothTaps {
				o := y*w + clamp(x+k-smoothOrigin, 0, w-1)
				vx += f.hx[o] * t
				vy += f.hy[o] * t
			}
			sx[y*w+x] = vx
			sy[y*w+x] = vy
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var vx, vy float32
			for k, t := range smoothTaps {
				o := clamp(y+k-smoothOrigin, 0, h-1)*w + x
				vx += sx[o] * t
				vy += sy[o] * t
			}
			f.hx[y*w+x] = vx
			f.hy[y*w+x] = vy
		}
	}
}

// solve estimates the flow of every level from coarsest to finest. Level 0
// is only refined when refineFinest is set; otherwise it is the upsampled
// level 1 field.
func (p *pyramid) solve(refineFinest bool) {
	for l := len(p.levels) - 1; l >= 0; l-- {
		f := p.flows[l]
		f.seed(p.flows[l+1])
		if l > 0 || refineFinest {
			f.refine(p.levels[l], p.scratch)
		}
	}
}
