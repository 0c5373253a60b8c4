package zarr

import (
	"fmt"
	"strconv"
	"strings"
)

// GridShape calculates the number of chunks in each dimension:
// ceil(shape[i] / chunks[i]).
func GridShape(shape, chunks []int) []int {
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

// ChunkKey generates the key for a chunk given its grid coordinates, for
// example [1 4] -> "1.4". Zero-dimensional arrays have the single chunk "0".
func ChunkKey(coords []int, separator string) string {
	if len(coords) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, c := range coords {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(c))
	}
	return sb.String()
}

// ParseChunkKey is the inverse of ChunkKey for an array of the given rank.
func ParseChunkKey(key, separator string, rank int) ([]int, error) {
	if rank == 0 {
		if key != "0" {
			return nil, fmt.Errorf("invalid chunk key %q for scalar array", key)
		}
		return []int{}, nil
	}
	parts := strings.Split(key, separator)
	if len(parts) != rank {
		return nil, fmt.Errorf("chunk key %q has %d coordinates, want %d", key, len(parts), rank)
	}
	coords := make([]int, rank)
	for i, p := range parts {
		c, err := strconv.Atoi(p)
		if err != nil || c < 0 {
			return nil, fmt.Errorf("invalid chunk key %q", key)
		}
		coords[i] = c
	}
	return coords, nil
}

// A mapping of items from a chunk to an output array. Can be used to extract
// items from the chunk array for loading into an output array, or to extract
// items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Offset of the selection within the chunk.
	ChunkSelection []int
	// Offset of the selection within the target (output) array.
	OutSelection []int
	// Length of the selection in each dimension.
	Extent []int
}

// project computes where chunk coords of an array with the given shape and
// chunk lengths lands in the full row-major array. Edge chunks are cropped
// to the array shape.
func project(coords, shape, chunks []int) chunkProjection {
	p := chunkProjection{
		ChunkCoords:    coords,
		ChunkSelection: make([]int, len(coords)),
		OutSelection:   make([]int, len(coords)),
		Extent:         make([]int, len(coords)),
	}
	for i, c := range coords {
		p.OutSelection[i] = c * chunks[i]
		p.Extent[i] = chunks[i]
		if end := p.OutSelection[i] + chunks[i]; end > shape[i] {
			p.Extent[i] = shape[i] - p.OutSelection[i]
		}
	}
	return p
}

// CopyRegion copies a box of the given extent from src, a row-major array of
// srcShape starting at srcOff, into dst, a row-major array of dstShape
// starting at dstOff.
func CopyRegion(dst []float64, dstShape, dstOff []int, src []float64, srcShape, srcOff []int, extent []int) {
	rank := len(extent)
	if rank == 0 {
		if len(dst) > 0 && len(src) > 0 {
			dst[0] = src[0]
		}
		return
	}
	for _, e := range extent {
		if e <= 0 {
			return
		}
	}
	dstStrides, srcStrides := strides(dstShape), strides(srcShape)
	idx := make([]int, rank-1)
	inner := extent[rank-1]
	for {
		d := dstOff[rank-1]
		s := srcOff[rank-1]
		for i, x := range idx {
			d += (dstOff[i] + x) * dstStrides[i]
			s += (srcOff[i] + x) * srcStrides[i]
		}
		copy(dst[d:d+inner], src[s:s+inner])

		// advance the outer index odometer
		i := rank - 2
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < extent[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

// strides returns row-major element strides for shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	n := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = n
		n *= shape[i]
	}
	return s
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
