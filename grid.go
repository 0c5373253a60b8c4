package gridscale

import (
	"fmt"

	"github.com/qri-io/gridscale/zarr"
)

// Grid describes how an array of Shape is partitioned into chunks. Chunks
// holds, per axis, the length of every chunk along that axis; chunk lengths
// may differ, so a dataset stitched together from files of different lengths
// keeps one chunk per file.
type Grid struct {
	Shape  []int
	Chunks [][]int
}

// RegularGrid partitions shape into chunk-sized pieces; the last piece along
// an axis may be shorter. A chunk length that is not positive, or that
// exceeds the axis, yields a single chunk spanning the axis. A nil chunk
// slice yields a single chunk.
func RegularGrid(shape, chunk []int) Grid {
	g := Grid{Shape: append([]int(nil), shape...), Chunks: make([][]int, len(shape))}
	for i, n := range shape {
		c := n
		if i < len(chunk) && chunk[i] > 0 && chunk[i] < n {
			c = chunk[i]
		}
		for off := 0; off < n; off += c {
			l := c
			if off+l > n {
				l = n - off
			}
			g.Chunks[i] = append(g.Chunks[i], l)
		}
	}
	return g
}

// Validate checks that chunk lengths are positive and sum to the shape.
func (g Grid) Validate() error {
	if len(g.Shape) != len(g.Chunks) {
		return fmt.Errorf("grid: shape %v has rank %d but %d chunk axes", g.Shape, len(g.Shape), len(g.Chunks))
	}
	for i, n := range g.Shape {
		sum := 0
		for _, c := range g.Chunks[i] {
			if c <= 0 {
				return fmt.Errorf("grid: non-positive chunk length %d on axis %d", c, i)
			}
			sum += c
		}
		if sum != n {
			return fmt.Errorf("grid: chunks on axis %d sum to %d, want %d", i, sum, n)
		}
	}
	return nil
}

// Rank returns the number of dimensions.
func (g Grid) Rank() int { return len(g.Shape) }

// Size returns the total number of elements.
func (g Grid) Size() int { return product(g.Shape) }

// NumChunks returns the number of chunks along each axis.
func (g Grid) NumChunks() []int {
	n := make([]int, len(g.Chunks))
	for i, c := range g.Chunks {
		n[i] = len(c)
	}
	return n
}

// Len returns the total number of chunks.
func (g Grid) Len() int {
	for _, c := range g.Chunks {
		if len(c) == 0 {
			return 0
		}
	}
	return product(g.NumChunks())
}

// Origin returns the element offset of the chunk at coords.
func (g Grid) Origin(coords []int) []int {
	o := make([]int, len(coords))
	for i, c := range coords {
		for _, l := range g.Chunks[i][:c] {
			o[i] += l
		}
	}
	return o
}

// ChunkShape returns the shape of the chunk at coords.
func (g Grid) ChunkShape(coords []int) []int {
	s := make([]int, len(coords))
	for i, c := range coords {
		s[i] = g.Chunks[i][c]
	}
	return s
}

// Each calls fn for every chunk in row-major order.
func (g Grid) Each(fn func(coords []int)) {
	zarr.EachCoords(g.NumChunks(), func(coords []int) bool {
		fn(coords)
		return true
	})
}

// Keys returns the chunk keys of g in row-major order.
func (g Grid) Keys() []string {
	keys := make([]string, 0, g.Len())
	g.Each(func(coords []int) {
		keys = append(keys, Key(coords))
	})
	return keys
}

// Regular reports whether every chunk except the last along each axis has
// the same length, returning that length. Only regular grids can be
// persisted to zarr.
func (g Grid) Regular() (chunk []int, ok bool) {
	chunk = make([]int, len(g.Chunks))
	for i, cs := range g.Chunks {
		if len(cs) == 0 {
			chunk[i] = 1
			continue
		}
		chunk[i] = cs[0]
		for j, c := range cs {
			if c > cs[0] || (c != cs[0] && j != len(cs)-1) {
				return nil, false
			}
		}
	}
	return chunk, true
}

// Equal reports whether g and h have the same shape and chunking.
func (g Grid) Equal(h Grid) bool {
	if len(g.Shape) != len(h.Shape) {
		return false
	}
	for i := range g.Shape {
		if g.Shape[i] != h.Shape[i] || len(g.Chunks[i]) != len(h.Chunks[i]) {
			return false
		}
		for j := range g.Chunks[i] {
			if g.Chunks[i][j] != h.Chunks[i][j] {
				return false
			}
		}
	}
	return true
}

func (g Grid) String() string {
	return fmt.Sprintf("shape=%v chunks=%v", g.Shape, g.Chunks)
}

// collapse returns g with the given axes reduced to a single element held
// in a single chunk.
func (g Grid) collapse(axes []int) Grid {
	out := g.clone()
	for _, a := range axes {
		out.Shape[a] = 1
		out.Chunks[a] = []int{1}
	}
	return out
}

// resize returns g with axis replaced by n elements in one chunk.
func (g Grid) resize(axis, n int) Grid {
	out := g.clone()
	out.Shape[axis] = n
	out.Chunks[axis] = nil
	if n > 0 {
		out.Chunks[axis] = []int{n}
	}
	return out
}

func (g Grid) clone() Grid {
	out := Grid{Shape: append([]int(nil), g.Shape...), Chunks: make([][]int, len(g.Chunks))}
	for i, c := range g.Chunks {
		out.Chunks[i] = append([]int(nil), c...)
	}
	return out
}

// Key returns the dotted chunk key for coords, as zarr names chunks.
func Key(coords []int) string {
	return zarr.ChunkKey(coords, ".")
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
