package gridscale

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// Kind names an aggregation. All kinds skip NaN values.
type Kind int

const (
	// Sum adds values; a group without valid values sums to 0.
	Sum Kind = iota
	// Mean averages values; a group without valid values is NaN.
	Mean
	Min
	Max
	// Count counts valid (non-NaN) values.
	Count
	// Std is the population standard deviation.
	Std
)

var kindNames = map[Kind]string{
	Sum:   "sum",
	Mean:  "mean",
	Min:   "min",
	Max:   "max",
	Count: "count",
	Std:   "std",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown aggregation %q", s))
}

// Partial is the running state of an aggregation over one output chunk.
// Partials of the same chunk combine associatively, so they may be merged in
// any order by bigslice's Reduce.
type Partial struct {
	Coords []int
	Origin []int
	Shape  []int
	Kind   Kind

	Sum    []float64
	Sum2   []float64
	Weight []float64
	Min    []float64
	Max    []float64
}

func newPartial(kind Kind, g Grid, coords []int) Partial {
	shape := g.ChunkShape(coords)
	n := product(shape)
	p := Partial{
		Coords: append([]int(nil), coords...),
		Origin: g.Origin(coords),
		Shape:  shape,
		Kind:   kind,
		Weight: make([]float64, n),
	}
	switch kind {
	case Sum, Mean, Count:
		p.Sum = make([]float64, n)
	case Std:
		p.Sum = make([]float64, n)
		p.Sum2 = make([]float64, n)
	case Min:
		p.Min = filled(n, math.Inf(1))
	case Max:
		p.Max = filled(n, math.Inf(-1))
	}
	return p
}

func filled(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// add folds value x with weight w into element off.
func (p *Partial) add(off int, x, w float64) {
	if math.IsNaN(x) || math.IsNaN(w) {
		return
	}
	p.Weight[off] += w
	if p.Sum != nil {
		p.Sum[off] += w * x
	}
	if p.Sum2 != nil {
		p.Sum2[off] += w * x * x
	}
	if p.Min != nil && x < p.Min[off] {
		p.Min[off] = x
	}
	if p.Max != nil && x > p.Max[off] {
		p.Max[off] = x
	}
}

// combine merges two partials of the same output chunk into a new partial.
func combine(a, b Partial) Partial {
	c := Partial{
		Coords: a.Coords,
		Origin: a.Origin,
		Shape:  a.Shape,
		Kind:   a.Kind,
		Weight: addSlices(a.Weight, b.Weight),
		Sum:    addSlices(a.Sum, b.Sum),
		Sum2:   addSlices(a.Sum2, b.Sum2),
	}
	if a.Min != nil {
		c.Min = make([]float64, len(a.Min))
		for i := range c.Min {
			c.Min[i] = math.Min(a.Min[i], b.Min[i])
		}
	}
	if a.Max != nil {
		c.Max = make([]float64, len(a.Max))
		for i := range c.Max {
			c.Max[i] = math.Max(a.Max[i], b.Max[i])
		}
	}
	return c
}

func addSlices(a, b []float64) []float64 {
	if a == nil {
		return nil
	}
	c := make([]float64, len(a))
	for i := range c {
		c[i] = a[i] + b[i]
	}
	return c
}

// finish turns the partial into the block of aggregated values.
func (p Partial) finish() Block {
	b := Block{Coords: p.Coords, Origin: p.Origin, Shape: p.Shape, Data: make([]float64, len(p.Weight))}
	for i, w := range p.Weight {
		switch p.Kind {
		case Sum:
			b.Data[i] = p.Sum[i]
		case Count:
			b.Data[i] = w
		case Mean:
			b.Data[i] = p.Sum[i] / w
		case Std:
			mean := p.Sum[i] / w
			v := p.Sum2[i]/w - mean*mean
			if v < 0 {
				v = 0
			}
			b.Data[i] = math.Sqrt(v)
		case Min:
			b.Data[i] = p.Min[i]
		case Max:
			b.Data[i] = p.Max[i]
		}
		if w == 0 && p.Kind != Sum && p.Kind != Count {
			b.Data[i] = math.NaN()
		}
	}
	return b
}

// accumulate folds block b into a partial for the output chunk at coords of
// grid g. maps[a][i] gives the local output index along axis a of the
// block's local index i, or -1 to drop the element. When weights is
// non-nil, each element is weighted by weights[global index on weightAxis].
func accumulate(kind Kind, b Block, g Grid, coords []int, maps [][]int, weights []float64, weightAxis int) Partial {
	p := newPartial(kind, g, coords)
	st := strides(p.Shape)
	rank := len(b.Shape)
	idx := make([]int, rank)
	for _, x := range b.Data {
		off, ok := 0, true
		for a := 0; a < rank; a++ {
			o := maps[a][idx[a]]
			if o < 0 {
				ok = false
				break
			}
			off += o * st[a]
		}
		if ok {
			w := 1.0
			if weights != nil {
				w = weights[b.Origin[weightAxis]+idx[weightAxis]]
			}
			p.add(off, x, w)
		}
		for a := rank - 1; a >= 0; a-- {
			idx[a]++
			if idx[a] < b.Shape[a] {
				break
			}
			idx[a] = 0
		}
	}
	return p
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	n := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = n
		n *= shape[i]
	}
	return s
}
