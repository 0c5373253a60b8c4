package gridscale

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/bigslice/typecheck"
	"github.com/qri-io/gridscale/zarr"
)

// Array is a lazily evaluated, chunked, multidimensional array of float64.
// Constructors and operations only build an expression graph; nothing is
// read or computed until the array is passed to Compute or Persist.
//
// Operations whose operands do not fit together (mismatched shapes or
// chunking, axes out of range) panic with a typecheck error that names the
// caller, in the manner of bigslice's own combinators.
type Array struct {
	node Node
}

// Of returns the array computed by node.
func Of(node Node) Array { return Array{node} }

// Node returns the array's expression graph.
func (a Array) Node() Node { return a.node }

// Grid returns the array's shape and chunking.
func (a Array) Grid() Grid { return a.node.Grid() }

// Shape returns the array's shape.
func (a Array) Shape() []int { return a.node.Grid().Shape }

// Rank returns the number of dimensions.
func (a Array) Rank() int { return a.node.Grid().Rank() }

func (a Array) String() string {
	return fmt.Sprintf("gridscale.Array(%s)", a.Grid())
}

func mustGrid(g Grid) Grid {
	if err := g.Validate(); err != nil {
		typecheck.Panicf(2, "gridscale: %v", err)
	}
	return g
}

// Random returns an array of uniformly distributed values in [0, 1). The
// values of each chunk depend only on seed and the chunk's position.
func Random(shape, chunks []int, seed int64) Array {
	return Array{randomNode{G: mustGrid(RegularGrid(shape, chunks)), Seed: seed}}
}

// RandomNormal is like Random but draws from the standard normal
// distribution.
func RandomNormal(shape, chunks []int, seed int64) Array {
	return Array{randomNode{G: mustGrid(RegularGrid(shape, chunks)), Seed: seed, Normal: true}}
}

// Full returns an array with every element set to v.
func Full(shape, chunks []int, v float64) Array {
	return Array{fullNode{G: mustGrid(RegularGrid(shape, chunks)), Value: v}}
}

// Zeros returns an array of zeros.
func Zeros(shape, chunks []int) Array { return Full(shape, chunks, 0) }

// Ones returns an array of ones.
func Ones(shape, chunks []int) Array { return Full(shape, chunks, 1) }

// FromDense splits an in-memory array into chunks.
func FromDense(d *Dense, chunks []int) Array {
	if len(d.Data) != product(d.Shape) {
		typecheck.Panicf(1, "gridscale: dense array has %d elements, shape %v", len(d.Data), d.Shape)
	}
	return Array{denseNode{G: mustGrid(RegularGrid(d.Shape, chunks)), D: d}}
}

// FromZarr returns the array stored at path in the zarr directory store
// dir. Each stored chunk becomes one chunk of the array.
func FromZarr(dir, path string) (Array, error) {
	arr, err := openZarr(dir, path, zarr.ModeRead)
	if err != nil {
		return Array{}, err
	}
	m := arr.Meta()
	return Array{zarrNode{G: RegularGrid(m.Shape, m.Chunks), Dir: dir, Path: path}}, nil
}

// FromNetCDF returns variable name stacked from files along its first
// dimension. File i contributes lens[i] records; inner is the shape of the
// remaining dimensions. Each file forms one chunk along the first axis, and
// chunks optionally splits the inner dimensions further.
func FromNetCDF(files []string, name string, lens, inner, chunks []int) Array {
	if len(files) != len(lens) {
		typecheck.Panicf(1, "gridscale: %d files but %d record counts", len(files), len(lens))
	}
	var total int
	for i, n := range lens {
		if n <= 0 {
			typecheck.Panicf(1, "gridscale: file %s has %d records", files[i], n)
		}
		total += n
	}
	shape := append([]int{total}, inner...)
	var innerChunks []int
	if len(chunks) > 1 {
		innerChunks = chunks[1:]
	}
	g := RegularGrid(shape, append([]int{0}, innerChunks...))
	g.Chunks[0] = append([]int(nil), lens...)
	return Array{ncNode{G: mustGrid(g), Files: append([]string(nil), files...), Var: name}}
}

// End, used as a Range bound, denotes the end of the axis.
const End = math.MaxInt32

// Range is the half-open interval [Start, Stop) of an axis. Negative
// bounds count back from the end of the axis; a Stop of zero following a
// negative Start means the end of the axis, so Range{-3, 0} selects the
// last three elements.
type Range struct {
	Start, Stop int
}

// All selects a whole axis.
func All() Range { return Range{0, End} }

// At selects the single index i, which may be negative.
func At(i int) Range { return Range{i, i + 1} }

// Span selects [start, stop).
func Span(start, stop int) Range { return Range{start, stop} }

// Bounds resolves r against an axis of length n, clipping to the axis.
func (r Range) Bounds(n int) (start, stop int) {
	start, stop = r.Start, r.Stop
	if start < 0 {
		start += n
		if stop == 0 {
			stop = n
		}
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	if stop > n {
		stop = n
	}
	if stop < start {
		stop = start
	}
	return start, stop
}

// Index selects a window of a. Axes beyond the given ranges are kept whole.
func (a Array) Index(ranges ...Range) Array {
	g := a.Grid()
	if len(ranges) > g.Rank() {
		typecheck.Panicf(1, "gridscale: %d index ranges for array of rank %d", len(ranges), g.Rank())
	}
	start, stop := make([]int, g.Rank()), make([]int, g.Rank())
	whole := true
	for i, n := range g.Shape {
		r := All()
		if i < len(ranges) {
			r = ranges[i]
		}
		start[i], stop[i] = r.Bounds(n)
		whole = whole && start[i] == 0 && stop[i] == n
	}
	if whole {
		return a
	}
	return Array{indexNode{G: indexGrid(g, start, stop), Arg: a.node, Start: start, Stop: stop}}
}

func (a Array) binary(op string, b Array) Array {
	if !a.Grid().Equal(b.Grid()) {
		typecheck.Panicf(2, "gridscale: %s: grid %s does not match %s", op, a.Grid(), b.Grid())
	}
	return Array{binaryNode{Left: a.node, Right: b.node, Op: op}}
}

// Add returns a + b. The arrays must have identical shape and chunking.
func (a Array) Add(b Array) Array { return a.binary("add", b) }

// Sub returns a - b.
func (a Array) Sub(b Array) Array { return a.binary("sub", b) }

// Mul returns a * b.
func (a Array) Mul(b Array) Array { return a.binary("mul", b) }

// Div returns a / b.
func (a Array) Div(b Array) Array { return a.binary("div", b) }

// AddScalar returns a + v.
func (a Array) AddScalar(v float64) Array { return Array{mapNode{Arg: a.node, Op: "add", Value: v}} }

// MulScalar returns a * v.
func (a Array) MulScalar(v float64) Array { return Array{mapNode{Arg: a.node, Op: "mul", Value: v}} }

// Pow raises every element to the power p.
func (a Array) Pow(p float64) Array { return Array{mapNode{Arg: a.node, Op: "pow", Value: p}} }

// Apply applies the named elementwise function: abs, sqrt, exp, log, cos,
// sin or neg.
func (a Array) Apply(fn string) Array {
	if _, ok := unaryOps[fn]; !ok {
		typecheck.Panicf(1, "gridscale: unknown function %q", fn)
	}
	return Array{mapNode{Arg: a.node, Op: fn}}
}

// Broadcast combines every element of a with an element of operand using
// op (add, sub, mul, div, pow, min or max). Axis k of operand runs along
// axis axes[k] of a. When labels is non-nil, indices along axes[0] are
// first mapped through labels, so that for example a (month, lat, lon)
// climatology can be subtracted from a (time, lat, lon) array; label -1
// yields NaN.
func (a Array) Broadcast(op string, operand *Dense, axes []int, labels []int) Array {
	g := a.Grid()
	if _, ok := binaryOps[op]; !ok {
		typecheck.Panicf(1, "gridscale: unknown operator %q", op)
	}
	if len(axes) != operand.Rank() {
		typecheck.Panicf(1, "gridscale: operand of rank %d broadcast along %d axes", operand.Rank(), len(axes))
	}
	for k, ax := range axes {
		if ax < 0 || ax >= g.Rank() {
			typecheck.Panicf(1, "gridscale: axis %d out of range for rank %d", ax, g.Rank())
		}
		want := g.Shape[ax]
		if k == 0 && labels != nil {
			if len(labels) != want {
				typecheck.Panicf(1, "gridscale: %d labels for axis of length %d", len(labels), want)
			}
			for _, l := range labels {
				if l >= operand.Shape[0] {
					typecheck.Panicf(1, "gridscale: label %d out of range for operand axis of length %d", l, operand.Shape[0])
				}
			}
			continue
		}
		if operand.Shape[k] != want {
			typecheck.Panicf(1, "gridscale: operand shape %v does not match axes %v of shape %v", operand.Shape, axes, g.Shape)
		}
	}
	return Array{broadcastNode{Arg: a.node, Op: op, Operand: operand, Axes: axes, Labels: labels}}
}

// normAxes validates axes and returns them sorted and deduplicated; no axes
// means every axis.
func normAxes(g Grid, axes []int) []int {
	if len(axes) == 0 {
		axes = make([]int, g.Rank())
		for i := range axes {
			axes[i] = i
		}
		return axes
	}
	seen := make(map[int]bool)
	var out []int
	for _, a := range axes {
		if a < 0 || a >= g.Rank() {
			typecheck.Panicf(2, "gridscale: axis %d out of range for rank %d", a, g.Rank())
		}
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Ints(out)
	return out
}

// Reduce aggregates a along axes (every axis if none are given). Reduced
// axes are kept with length one; see Squeeze.
func (a Array) Reduce(kind Kind, axes ...int) Array {
	g := a.Grid()
	axes = normAxes(g, axes)
	return Array{reduceNode{G: g.collapse(axes), Arg: a.node, Axes: axes, Kind: kind}}
}

// Sum reduces by summation.
func (a Array) Sum(axes ...int) Array { return a.Reduce(Sum, axes...) }

// Mean reduces by averaging.
func (a Array) Mean(axes ...int) Array { return a.Reduce(Mean, axes...) }

// Min reduces to the minimum.
func (a Array) Min(axes ...int) Array { return a.Reduce(Min, axes...) }

// Max reduces to the maximum.
func (a Array) Max(axes ...int) Array { return a.Reduce(Max, axes...) }

// Std reduces to the population standard deviation.
func (a Array) Std(axes ...int) Array { return a.Reduce(Std, axes...) }

// Count reduces to the number of valid (non-NaN) values.
func (a Array) Count(axes ...int) Array { return a.Reduce(Count, axes...) }

// WeightedReduce is Reduce with every element weighted by
// weights[i], where i is the element's index along weightAxis. Only Sum and
// Mean are supported; the weighted mean divides by the total weight of the
// valid values.
func (a Array) WeightedReduce(kind Kind, weights []float64, weightAxis int, axes ...int) Array {
	g := a.Grid()
	if kind != Sum && kind != Mean {
		typecheck.Panicf(1, "gridscale: weighted %s is not supported", kind)
	}
	if weightAxis < 0 || weightAxis >= g.Rank() {
		typecheck.Panicf(1, "gridscale: weight axis %d out of range for rank %d", weightAxis, g.Rank())
	}
	if len(weights) != g.Shape[weightAxis] {
		typecheck.Panicf(1, "gridscale: %d weights for axis of length %d", len(weights), g.Shape[weightAxis])
	}
	axes = normAxes(g, axes)
	return Array{reduceNode{
		G:          g.collapse(axes),
		Arg:        a.node,
		Axes:       axes,
		Kind:       kind,
		Weights:    append([]float64(nil), weights...),
		WeightAxis: weightAxis,
	}}
}

// GroupReduce aggregates along axis by group: element i of the axis belongs
// to group labels[i], or to none when the label is -1. The result's axis has
// length ngroups, held in one chunk.
func (a Array) GroupReduce(kind Kind, axis int, labels []int, ngroups int) Array {
	g := a.Grid()
	if axis < 0 || axis >= g.Rank() {
		typecheck.Panicf(1, "gridscale: axis %d out of range for rank %d", axis, g.Rank())
	}
	if len(labels) != g.Shape[axis] {
		typecheck.Panicf(1, "gridscale: %d labels for axis of length %d", len(labels), g.Shape[axis])
	}
	for _, l := range labels {
		if l < -1 || l >= ngroups {
			typecheck.Panicf(1, "gridscale: label %d out of range for %d groups", l, ngroups)
		}
	}
	return Array{groupNode{G: g.resize(axis, ngroups), Arg: a.node, Axis: axis, Labels: labels, Kind: kind}}
}

// Rechunk splits axis into chunks of the given length; the last chunk may
// be shorter. A size that is not positive, or that exceeds the axis, merges
// the axis into one chunk.
func (a Array) Rechunk(axis, size int) Array {
	g := a.Grid()
	if axis < 0 || axis >= g.Rank() {
		typecheck.Panicf(1, "gridscale: axis %d out of range for rank %d", axis, g.Rank())
	}
	out := g.clone()
	out.Chunks[axis] = RegularGrid([]int{g.Shape[axis]}, []int{size}).Chunks[0]
	if out.Equal(g) {
		return a
	}
	return Array{rechunkNode{G: out, Arg: a.node, Axis: axis}}
}

// Rolling computes a moving-window aggregate of the given window length
// along axis. The window ends at each element unless center is set, in
// which case it is centered on it. Positions with fewer than minPeriods
// valid values are NaN; minPeriods <= 0 means the full window.
func (a Array) Rolling(kind Kind, axis, window int, center bool, minPeriods int) Array {
	g := a.Grid()
	if axis < 0 || axis >= g.Rank() {
		typecheck.Panicf(1, "gridscale: axis %d out of range for rank %d", axis, g.Rank())
	}
	if window <= 0 {
		typecheck.Panicf(1, "gridscale: window must be positive, got %d", window)
	}
	if minPeriods <= 0 {
		minPeriods = window
	}
	a = a.Rechunk(axis, 0)
	return Array{rollingNode{Arg: a.node, Axis: axis, Kind: kind, Window: window, Center: center, MinPeriods: minPeriods}}
}

// Squeeze drops the given length-one axes, or every length-one axis when
// none are given.
func (a Array) Squeeze(axes ...int) Array {
	g := a.Grid()
	if len(axes) == 0 {
		for i, n := range g.Shape {
			if n == 1 {
				axes = append(axes, i)
			}
		}
	} else {
		axes = normAxes(g, axes)
	}
	if len(axes) == 0 {
		return a
	}
	drop := make(map[int]bool)
	for _, ax := range axes {
		if g.Shape[ax] != 1 {
			typecheck.Panicf(1, "gridscale: cannot squeeze axis %d of length %d", ax, g.Shape[ax])
		}
		drop[ax] = true
	}
	var out Grid
	for i := range g.Shape {
		if !drop[i] {
			out.Shape = append(out.Shape, g.Shape[i])
			out.Chunks = append(out.Chunks, append([]int(nil), g.Chunks[i]...))
		}
	}
	if out.Shape == nil {
		out = Grid{Shape: []int{}, Chunks: [][]int{}}
	}
	return Array{squeezeNode{G: out, Arg: a.node, Axes: axes}}
}
