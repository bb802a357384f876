package signals

import "math"

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd computes the n-1 standard deviation around m.
func sampleStd(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum2 := 0.0
	for _, x := range xs {
		d := x - m
		sum2 += d * d
	}
	variance := sum2 / float64(len(xs)-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// realizedVol is the per-bar standard deviation of the last window returns.
func realizedVol(returns []float64, window int) float64 {
	if window < 2 || len(returns) < window {
		return 0
	}
	tail := returns[len(returns)-window:]
	return sampleStd(tail, mean(tail))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// squash maps an unbounded score into (-1, 1) with unit slope near zero.
func squash(x float64) float64 {
	return math.Tanh(x)
}
