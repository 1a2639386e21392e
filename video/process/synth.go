package process

import (
	"math"
)

// Gradient magnitude below which a pixel carries no usable position
// information for the super resolved accumulation.
const minSRGradient = 0.001

// blendWeight is the share of the accumulated value kept at a pixel with the
// given L1 gradient.
func blendWeight(dx, dy float32) float32 {
	return 1 / (1 + 10*(abs32(dx)+abs32(dy)))
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

func floor32(v float32) float32 {
	return float32(math.Floor(float64(v)))
}

func round32(v float32) int {
	return int(math.Round(float64(v)))
}

// mean returns the average displacement over the whole field.
func (f *flowField) mean() (float32, float32) {
	var sx, sy float64
	for i := range f.hx {
		sx += float64(f.hx[i])
		sy += float64(f.hy[i])
	}
	n := float64(len(f.hx))
	return float32(sx / n), float32(sy / n)
}

// compensate samples the current frame back along the level 0 flow and
// blends the result into the accumulated output. Pixels whose source falls
// within a pixel of the border keep their accumulated value.
func (m *MotionEstimator) compensate() {
	l0 := m.pyr.levels[0]
	f0 := m.pyr.flows[0]
	w, h := l0.w, l0.h

	var offX, offY float32
	if m.opts.Mode == ModeCropFilterSubpixelStab {
		offX, offY = m.driftX, m.driftY
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*w + x
			// Source position is p - c.
			cx := -(f0.hx[o] - offX)
			cy := -(f0.hy[o] - offY)

			var ix, iy int
			var fx, fy float32
			if m.opts.Mode == ModeIntStab {
				ix, iy = round32(cx), round32(cy)
			} else {
				flx, fly := floor32(cx), floor32(cy)
				ix, iy = int(flx), int(fly)
				fx, fy = cx-flx, cy-fly
			}
			sx, sy := x+ix, y+iy
			if sx <= 1 || sy <= 1 || sx >= w-1 || sy >= h-1 {
				continue
			}

			var v float32
			if m.opts.Mode == ModeIntStab {
				v = l0.img[sy*w+sx]
			} else {
				v = bilinear(l0.img, w, sx, sy, fx, fy)
			}
			blend := blendWeight(l0.dx[o], l0.dy[o])
			m.final[o] = m.final[o]*blend + v*(1-blend)
		}
	}
}

// superResolve scatters level 0 intensities into the 2x accumulation at
// their flow displaced positions.
func (m *MotionEstimator) superResolve() {
	l0 := m.pyr.levels[0]
	f0 := m.pyr.flows[0]
	w, h := l0.w, l0.h
	sw, sh := 2*w, 2*h

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := y*w + x
			dx, dy := l0.dx[o], l0.dy[o]
			if dx*dx+dy*dy <= minSRGradient*minSRGradient {
				continue
			}
			sx := 2*x + round32(2*f0.hx[o])
			sy := 2*y + round32(2*f0.hy[o])
			if sx <= 1 || sy <= 1 || sx >= sw-1 || sy >= sh-1 {
				continue
			}
			so := sy*sw + sx
			blend := blendWeight(dx, dy)
			m.finalSR[so] = m.finalSR[so]*blend + l0.img[o]*(1-blend)
		}
	}
}
