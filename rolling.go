package gridscale

import "math"

// roll computes a moving-window aggregate along axis of a block that holds
// the whole axis. The window ending at position i covers [i-window+1, i];
// a centered window covers [i-window/2, i-window/2+window-1]. Positions with
// fewer than minPeriods valid values are NaN.
func roll(b Block, axis int, kind Kind, window int, center bool, minPeriods int) Block {
	out := Block{
		Coords: b.Coords,
		Origin: b.Origin,
		Shape:  b.Shape,
		Data:   make([]float64, len(b.Data)),
	}
	n := b.Shape[axis]
	stride := product(b.Shape[axis+1:])
	outer := product(b.Shape[:axis])
	line := make([]float64, n)
	for o := 0; o < outer; o++ {
		for j := 0; j < stride; j++ {
			base := o*n*stride + j
			for k := 0; k < n; k++ {
				line[k] = b.Data[base+k*stride]
			}
			for k := 0; k < n; k++ {
				lo := k - window + 1
				if center {
					lo = k - window/2
				}
				out.Data[base+k*stride] = windowAgg(line, lo, lo+window, kind, minPeriods)
			}
		}
	}
	return out
}

func windowAgg(line []float64, lo, hi int, kind Kind, minPeriods int) float64 {
	if lo < 0 {
		lo = 0
	}
	if hi > len(line) {
		hi = len(line)
	}
	var (
		n        int
		sum, sq  float64
		min, max = math.Inf(1), math.Inf(-1)
	)
	for _, x := range line[lo:hi] {
		if math.IsNaN(x) {
			continue
		}
		n++
		sum += x
		sq += x * x
		min = math.Min(min, x)
		max = math.Max(max, x)
	}
	if n < minPeriods || n == 0 {
		if kind == Count {
			return float64(n)
		}
		return math.NaN()
	}
	switch kind {
	case Sum:
		return sum
	case Min:
		return min
	case Max:
		return max
	case Count:
		return float64(n)
	case Std:
		mean := sum / float64(n)
		v := sq/float64(n) - mean*mean
		if v < 0 {
			v = 0
		}
		return math.Sqrt(v)
	default:
		return sum / float64(n)
	}
}
