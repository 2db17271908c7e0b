// Package stats has running statistics used for data normalisation and training metrics.
package stats

import (
	"math"
	"sort"
)

// Calc exponentional moving average
type EMA float64

func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Running mean and stddev as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
	} else {
		s.Mean = s.oldM + (x-s.oldM)/s.Count
		s.Var = s.oldV + (x-s.oldM)*(x-s.Mean)
		s.oldM, s.oldV = s.Mean, s.Var
		if s.Count > 1 {
			s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
		}
	}
}

// Quantile returns the q'th percentile of the values using linear interpolation
// between closest ranks, with q in range 0-100.
func Quantile(vals []float32, q float64) float32 {
	if len(vals) == 0 {
		panic("Quantile: no values")
	}
	sorted := append([]float32{}, vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := q / 100 * float64(len(sorted)-1)
	ix := int(pos)
	frac := float32(pos - float64(ix))
	if ix+1 >= len(sorted) {
		return sorted[ix]
	}
	return sorted[ix]*(1-frac) + sorted[ix+1]*frac
}
