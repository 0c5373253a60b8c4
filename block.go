package gridscale

import (
	"fmt"
	"math"

	"github.com/qri-io/gridscale/zarr"
)

// Block is one materialized chunk of an Array. Blocks are the rows that flow
// through bigslice, keyed by their chunk key.
type Block struct {
	// Coords is the chunk's position in the array's grid.
	Coords []int
	// Origin is the element offset of the chunk's first element.
	Origin []int
	Shape  []int
	// Data holds the chunk's elements in row-major order; missing values
	// are NaN.
	Data []float64
}

func newBlock(g Grid, coords []int) Block {
	shape := g.ChunkShape(coords)
	return Block{
		Coords: append([]int(nil), coords...),
		Origin: g.Origin(coords),
		Shape:  shape,
		Data:   make([]float64, product(shape)),
	}
}

// Len returns the number of elements in the block.
func (b Block) Len() int { return len(b.Data) }

// Dense is an in-memory, fully materialized array.
type Dense struct {
	Shape []int
	Data  []float64
}

// NewDense returns a Dense of shape filled with v.
func NewDense(shape []int, v float64) *Dense {
	d := &Dense{Shape: append([]int(nil), shape...), Data: make([]float64, product(shape))}
	if v != 0 {
		for i := range d.Data {
			d.Data[i] = v
		}
	}
	return d
}

// Len returns the number of elements.
func (d *Dense) Len() int { return len(d.Data) }

// Rank returns the number of dimensions.
func (d *Dense) Rank() int { return len(d.Shape) }

// offset returns the linear index of idx, panicking on out of range indices.
func (d *Dense) offset(idx []int) int {
	if len(idx) != len(d.Shape) {
		panic(fmt.Sprintf("gridscale: index %v does not match rank %d", idx, len(d.Shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= d.Shape[i] {
			panic(fmt.Sprintf("gridscale: index %v out of range for shape %v", idx, d.Shape))
		}
		off = off*d.Shape[i] + x
	}
	return off
}

// At returns the element at idx.
func (d *Dense) At(idx ...int) float64 { return d.Data[d.offset(idx)] }

// Set sets the element at idx.
func (d *Dense) Set(v float64, idx ...int) { d.Data[d.offset(idx)] = v }

// Scalar returns the single element of a one-element array.
func (d *Dense) Scalar() float64 {
	if len(d.Data) != 1 {
		panic(fmt.Sprintf("gridscale: Scalar on array of shape %v", d.Shape))
	}
	return d.Data[0]
}

// Row returns a copy of the contiguous run of the last axis at the leading
// index prefix; for a 2-D array Row(i) is row i.
func (d *Dense) Row(prefix ...int) []float64 {
	if len(prefix) != len(d.Shape)-1 {
		panic(fmt.Sprintf("gridscale: row prefix %v does not match rank %d", prefix, len(d.Shape)))
	}
	n := d.Shape[len(d.Shape)-1]
	off := d.offset(append(append([]int(nil), prefix...), 0))
	return append([]float64(nil), d.Data[off:off+n]...)
}

// Squeeze returns d without its length-one axes. The data is shared.
func (d *Dense) Squeeze() *Dense {
	var shape []int
	for _, s := range d.Shape {
		if s != 1 {
			shape = append(shape, s)
		}
	}
	return &Dense{Shape: shape, Data: d.Data}
}

// paste copies b into d at b's origin.
func (d *Dense) paste(b Block) {
	zarr.CopyRegion(d.Data, d.Shape, b.Origin, b.Data, b.Shape, make([]int, len(b.Shape)), b.Shape)
}

// cut extracts the block of g at coords from d.
func (d *Dense) cut(g Grid, coords []int) Block {
	b := newBlock(g, coords)
	zarr.CopyRegion(b.Data, b.Shape, make([]int, len(b.Shape)), d.Data, d.Shape, b.Origin, b.Shape)
	return b
}

// Count returns the number of non-NaN elements.
func (d *Dense) Count() int {
	n := 0
	for _, v := range d.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}
