package stats

import (
	"math"
	"testing"
)

func TestAverage(t *testing.T) {
	s := new(Average)
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(x)
	}
	if s.Mean != 5 {
		t.Error("mean: got", s.Mean, "expect 5")
	}
	if math.Abs(s.StdDev-2.13808993) > 1e-6 {
		t.Error("stddev: got", s.StdDev)
	}
}

func TestEMA(t *testing.T) {
	val := EMA(0).Add(10, 10)
	if val != 10 {
		t.Error("first value: got", val, "expect 10")
	}
	val = EMA(val).Add(20, 10)
	expect := 20*(2.0/11) + 10*(9.0/11)
	if math.Abs(val-expect) > 1e-9 {
		t.Error("got", val, "expect", expect)
	}
}

func TestQuantile(t *testing.T) {
	vals := []float32{9, 1, 8, 2, 7, 3, 6, 4, 5, 0}
	if q := Quantile(vals, 0); q != 0 {
		t.Error("q0: got", q)
	}
	if q := Quantile(vals, 100); q != 9 {
		t.Error("q100: got", q)
	}
	if q := Quantile(vals, 50); q != 4.5 {
		t.Error("q50: got", q)
	}
	// input should not be reordered
	if vals[0] != 9 || vals[9] != 0 {
		t.Error("input modified:", vals)
	}
}
