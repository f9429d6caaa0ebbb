package beam

import (
	"math"
	"sort"
)

// Smooth353QH smooths values in place with the 353QH-twice algorithm:
// running medians of width 3, 5 and 3, quadratic interpolation across flat
// segments, a hanning pass, then the same treatment applied to the residuals
// and added back. Series shorter than 3 points are left unchanged, constant
// and linear series are fixed points, and a strictly non-negative input
// stays non-negative.
func Smooth353QH(values []float64) {
	nn := len(values)
	if nn < 3 {
		return
	}
	xx := values
	yy := make([]float64, nn)
	zz := make([]float64, nn)
	rr := make([]float64, nn)

	copy(zz, xx)
	for pass := 0; pass < 2; pass++ {
		// running medians of width 3, 5 and 3
		for kk := 0; kk < 3; kk++ {
			copy(yy, zz)
			width, first := 3, 1
			if kk == 1 {
				width, first = 5, 2
			}
			for ii := first; ii < nn-first; ii++ {
				zz[ii] = median(yy[ii-first : ii-first+width])
			}
			if kk == 0 {
				// endpoint rule for the width-3 steps
				zz[0] = median3(zz[1], zz[0], 3*zz[1]-2*zz[2])
				zz[nn-1] = median3(zz[nn-2], zz[nn-1], 3*zz[nn-2]-2*zz[nn-3])
			}
			if kk == 1 {
				// the width-5 step falls back to width 3 near the ends
				zz[1] = median3(yy[0], yy[1], yy[2])
				zz[nn-2] = median3(yy[nn-3], yy[nn-2], yy[nn-1])
			}
		}

		copy(yy, zz)

		// quadratic interpolation across flat three-point segments
		for ii := 2; ii < nn-2; ii++ {
			if zz[ii-1] != zz[ii] || zz[ii] != zz[ii+1] {
				continue
			}
			left := zz[ii-2] - zz[ii]
			right := zz[ii+2] - zz[ii]
			if left*right <= 0 {
				continue
			}
			jk := 1
			if math.Abs(right) > math.Abs(left) {
				jk = -1
			}
			yy[ii] = -0.5*zz[ii-2*jk] + zz[ii]/0.75 + zz[ii+2*jk]/6
			yy[ii+jk] = 0.5*(zz[ii+2*jk]-zz[ii-2*jk]) + zz[ii]
		}

		// hanning pass
		for ii := 1; ii < nn-1; ii++ {
			zz[ii] = 0.25*yy[ii-1] + 0.5*yy[ii] + 0.25*yy[ii+1]
		}
		zz[0] = yy[0]
		zz[nn-1] = yy[nn-1]

		if pass == 0 {
			// keep the rough smooth, then smooth the residuals
			copy(rr, zz)
			for ii := range zz {
				zz[ii] = xx[ii] - zz[ii]
			}
		}
	}

	lowest := xx[0]
	for _, v := range xx {
		if v < lowest {
			lowest = v
		}
	}
	for ii := range xx {
		smoothed := rr[ii] + zz[ii]
		if lowest >= 0 && smoothed < 0 {
			smoothed = 0
		}
		xx[ii] = smoothed
	}
}

func median(window []float64) float64 {
	var buf [5]float64
	n := copy(buf[:], window)
	s := buf[:n]
	sort.Float64s(s)
	return s[n/2]
}

func median3(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		b = a
	}
	return b
}
