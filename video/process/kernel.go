package process

import (
	"gonum.org/v1/gonum/floats"
)

// Binomial-approximation Gaussian used to decimate by two. Output pixel x of
// the coarse level is centred between fine pixels 2x and 2x+1, so taps run
// from 2x-5 to 2x+6.
var decimateTaps = normalize(1, 11, 55, 165, 330, 462, 462, 330, 165, 55, 11, 1)

const decimateOrigin = 5

// Truncated Gaussian used to regularise the flow field, centred on the pixel.
var smoothTaps = normalize(45, 120, 210, 252, 210, 120, 45)

const smoothOrigin = 3

func normalize(w ...float64) []float32 {
	floats.Scale(1/floats.Sum(w), w)
	out := make([]float32, len(w))
	for i, v := range w {
		out[i] = float32(v)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bilinear samples data at (x+fx, y+fy); the caller guarantees the 2x2
// footprint is in range.
func bilinear(data []float32, stride, x, y int, fx, fy float32) float32 {
	o := y*stride + x
	return data[o]*((1-fx)*(1-fy)) + data[o+1]*(fx*(1-fy)) +
		data[o+stride]*((1-fx)*fy) + data[o+stride+1]*(fx*fy)
}

// bilinearClamped samples like bilinear, replicating edge pixels for taps
// that fall outside a w x h plane.
func bilinearClamped(data []float32, w, h, x, y int, fx, fy float32) float32 {
	x0, x1 := clamp(x, 0, w-1), clamp(x+1, 0, w-1)
	y0, y1 := clamp(y, 0, h-1)*w, clamp(y+1, 0, h-1)*w
	return data[y0+x0]*((1-fx)*(1-fy)) + data[y0+x1]*(fx*(1-fy)) +
		data[y1+x0]*((1-fx)*fy) + data[y1+x1]*(fx*fy)
}
