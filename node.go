package gridscale

import (
	"encoding/gob"
	goerrors "errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice"
	"github.com/grailbio/bigslice/sliceio"
	"github.com/qri-io/gridscale/ncfile"
	"github.com/qri-io/gridscale/zarr"
	"github.com/spaolacci/murmur3"
)

// Node is one step of an Array's expression graph. Nodes carry only
// serializable state: they are shipped to bigslice workers as Func
// arguments and turned back into slices of (chunk key, Block) rows there.
type Node interface {
	// Grid returns the chunking of the node's output.
	Grid() Grid
	slice() bigslice.Slice
}

func init() {
	gob.Register(randomNode{})
	gob.Register(fullNode{})
	gob.Register(denseNode{})
	gob.Register(zarrNode{})
	gob.Register(ncNode{})
	gob.Register(mapNode{})
	gob.Register(binaryNode{})
	gob.Register(broadcastNode{})
	gob.Register(indexNode{})
	gob.Register(reduceNode{})
	gob.Register(groupNode{})
	gob.Register(rechunkNode{})
	gob.Register(rollingNode{})
	gob.Register(squeezeNode{})
}

// maxShards bounds the number of shards a source slice is read with.
const maxShards = 256

// chunkSource produces the blocks of a source node. A source is opened once
// per shard and reads that shard's chunks in row-major order.
type chunkSource interface {
	read(coords []int) (Block, error)
	Close() error
}

type genFunc func(coords []int) (Block, error)

func (f genFunc) read(coords []int) (Block, error) { return f(coords) }

func (genFunc) Close() error { return nil }

type readState struct {
	started bool
	chunks  [][]int
	next    int
	src     chunkSource
}

// readChunks returns a slice that reads every chunk of g. Each shard reads a
// contiguous run of chunks so that sources backed by files open each file
// once.
func readChunks(g Grid, open func() (chunkSource, error)) bigslice.Slice {
	var all [][]int
	g.Each(func(coords []int) { all = append(all, coords) })
	nshard := len(all)
	if nshard > maxShards {
		nshard = maxShards
	}
	if nshard == 0 {
		nshard = 1
	}
	return bigslice.ReaderFunc(nshard, func(shard int, st *readState, keys []string, blocks []Block) (n int, err error) {
		if !st.started {
			st.started = true
			lo, hi := len(all)*shard/nshard, len(all)*(shard+1)/nshard
			st.chunks = all[lo:hi]
			if len(st.chunks) > 0 {
				if st.src, err = open(); err != nil {
					return 0, err
				}
			}
		}
		for n < len(keys) && st.next < len(st.chunks) {
			b, err := st.src.read(st.chunks[st.next])
			if err != nil {
				return n, err
			}
			keys[n], blocks[n] = Key(b.Coords), b
			n++
			st.next++
		}
		if st.next < len(st.chunks) {
			return n, nil
		}
		if st.src != nil {
			if err := st.src.Close(); err != nil {
				log.Error.Printf("gridscale: closing chunk source: %v", err)
			}
			st.src = nil
		}
		return n, sliceio.EOF
	})
}

type randomNode struct {
	G      Grid
	Seed   int64
	Normal bool
}

func (n randomNode) Grid() Grid { return n.G }

func (n randomNode) slice() bigslice.Slice {
	return readChunks(n.G, func() (chunkSource, error) {
		return genFunc(func(coords []int) (Block, error) {
			b := newBlock(n.G, coords)
			r := rand.New(rand.NewSource(chunkSeed(n.Seed, Key(coords))))
			for i := range b.Data {
				if n.Normal {
					b.Data[i] = r.NormFloat64()
				} else {
					b.Data[i] = r.Float64()
				}
			}
			return b, nil
		}), nil
	})
}

// chunkSeed derives the random seed of a chunk from the array seed and the
// chunk key, so values do not depend on which worker draws them.
func chunkSeed(seed int64, key string) int64 {
	hi := murmur3.Sum32WithSeed([]byte(key), uint32(seed>>32))
	lo := murmur3.Sum32WithSeed([]byte(key), uint32(seed))
	return int64(hi)<<32 | int64(lo)
}

type fullNode struct {
	G     Grid
	Value float64
}

func (n fullNode) Grid() Grid { return n.G }

func (n fullNode) slice() bigslice.Slice {
	return readChunks(n.G, func() (chunkSource, error) {
		return genFunc(func(coords []int) (Block, error) {
			b := newBlock(n.G, coords)
			if n.Value != 0 {
				for i := range b.Data {
					b.Data[i] = n.Value
				}
			}
			return b, nil
		}), nil
	})
}

type denseNode struct {
	G Grid
	D *Dense
}

func (n denseNode) Grid() Grid { return n.G }

func (n denseNode) slice() bigslice.Slice {
	return readChunks(n.G, func() (chunkSource, error) {
		return genFunc(func(coords []int) (Block, error) {
			return n.D.cut(n.G, coords), nil
		}), nil
	})
}

type zarrNode struct {
	G    Grid
	Dir  string
	Path string
}

func (n zarrNode) Grid() Grid { return n.G }

func (n zarrNode) slice() bigslice.Slice {
	return readChunks(n.G, func() (chunkSource, error) {
		arr, err := openZarr(n.Dir, n.Path, zarr.ModeRead)
		if err != nil {
			return nil, err
		}
		chunk := arr.Meta().Chunks
		return genFunc(func(coords []int) (Block, error) {
			vals, err := arr.ReadChunk(coords)
			if err != nil {
				return Block{}, errors.E(fmt.Sprintf("gridscale: read chunk %s of %s/%s", Key(coords), n.Dir, n.Path), err)
			}
			b := newBlock(n.G, coords)
			zero := make([]int, len(coords))
			zarr.CopyRegion(b.Data, b.Shape, zero, vals, chunk, zero, b.Shape)
			return b, nil
		}), nil
	})
}

// openZarr opens the array at path in the store at dir. Reads use the
// store's consolidated metadata when it has any.
func openZarr(dir, path string, mode zarr.PersistenceMode) (*zarr.Array, error) {
	store, err := zarr.NewLocalStore(dir)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("gridscale: zarr store %s", dir), err)
	}
	var arr *zarr.Array
	cm, err := zarr.ReadConsolidated(store)
	switch {
	case mode != zarr.ModeRead:
		arr, err = zarr.Open(store, path, mode)
	case err == nil:
		arr, err = zarr.OpenConsolidated(store, cm, path, mode)
	case zarrNotFound(err):
		arr, err = zarr.Open(store, path, mode)
	}
	if errors.Is(errors.NotExist, err) || zarrNotFound(err) {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("gridscale: zarr array %s/%s", dir, path), err)
	} else if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("gridscale: zarr array %s/%s", dir, path), err)
	}
	return arr, nil
}

func zarrNotFound(err error) bool {
	return goerrors.Is(err, zarr.ErrNotfound)
}

type ncNode struct {
	G     Grid
	Files []string
	Var   string
}

func (n ncNode) Grid() Grid { return n.G }

type ncSource struct {
	n    ncNode
	file int
	data *ncfile.Data
}

func (s *ncSource) read(coords []int) (Block, error) {
	if s.data == nil || s.file != coords[0] {
		path := s.n.Files[coords[0]]
		f, err := ncfile.Open(path)
		if err != nil {
			return Block{}, err
		}
		data, err := f.Read(s.n.Var)
		f.Close()
		if err != nil {
			return Block{}, err
		}
		want := append([]int{s.n.G.Chunks[0][coords[0]]}, s.n.G.Shape[1:]...)
		if !equalInts(data.Shape, want) {
			return Block{}, errors.E(errors.Invalid, fmt.Sprintf("gridscale: %s: variable %s has shape %v, want %v", path, s.n.Var, data.Shape, want))
		}
		log.Debug.Printf("gridscale: read %s%v from %s", s.n.Var, data.Shape, path)
		s.file, s.data = coords[0], data
	}
	b := newBlock(s.n.G, coords)
	off := append([]int{0}, b.Origin[1:]...)
	zarr.CopyRegion(b.Data, b.Shape, make([]int, len(coords)), s.data.Values, s.data.Shape, off, b.Shape)
	return b, nil
}

func (s *ncSource) Close() error {
	s.data = nil
	return nil
}

func (n ncNode) slice() bigslice.Slice {
	return readChunks(n.G, func() (chunkSource, error) {
		return &ncSource{n: n}, nil
	})
}

var unaryOps = map[string]func(float64) float64{
	"abs":  math.Abs,
	"sqrt": math.Sqrt,
	"exp":  math.Exp,
	"log":  math.Log,
	"cos":  math.Cos,
	"sin":  math.Sin,
	"neg":  func(x float64) float64 { return -x },
}

var binaryOps = map[string]func(x, y float64) float64{
	"add": func(x, y float64) float64 { return x + y },
	"sub": func(x, y float64) float64 { return x - y },
	"mul": func(x, y float64) float64 { return x * y },
	"div": func(x, y float64) float64 { return x / y },
	"pow": math.Pow,
	"min": math.Min,
	"max": math.Max,
}

// mapNode applies a unary function, or a binary operator with a scalar
// right operand, to every element.
type mapNode struct {
	Arg   Node
	Op    string
	Value float64
}

func (n mapNode) Grid() Grid { return n.Arg.Grid() }

func (n mapNode) slice() bigslice.Slice {
	fn, ok := unaryOps[n.Op]
	if !ok {
		op := binaryOps[n.Op]
		fn = func(x float64) float64 { return op(x, n.Value) }
	}
	return bigslice.Map(n.Arg.slice(), func(key string, b Block) (string, Block) {
		out := b
		out.Data = make([]float64, len(b.Data))
		for i, x := range b.Data {
			out.Data[i] = fn(x)
		}
		return key, out
	})
}

// binaryNode combines two arrays of the same grid element by element.
// Matching chunks are brought together with a cogroup on the chunk key.
type binaryNode struct {
	Left, Right Node
	Op          string
}

func (n binaryNode) Grid() Grid { return n.Left.Grid() }

func (n binaryNode) slice() bigslice.Slice {
	op := binaryOps[n.Op]
	g := n.Left.Grid()
	joined := bigslice.Cogroup(n.Left.slice(), n.Right.slice())
	return bigslice.Map(joined, func(key string, left, right []Block) (string, Block) {
		var l, r *Block
		if len(left) > 0 {
			l = &left[0]
		}
		if len(right) > 0 {
			r = &right[0]
		}
		var out Block
		switch {
		case l != nil:
			out = newBlock(g, l.Coords)
		case r != nil:
			out = newBlock(g, r.Coords)
		}
		for i := range out.Data {
			x, y := math.NaN(), math.NaN()
			if l != nil {
				x = l.Data[i]
			}
			if r != nil {
				y = r.Data[i]
			}
			out.Data[i] = op(x, y)
		}
		return key, out
	})
}

// broadcastNode combines each element with an element of a small in-memory
// operand addressed by a subset of the array's axes. When Labels is set, the
// index along Axes[0] is first mapped through it; label -1 yields NaN.
type broadcastNode struct {
	Arg     Node
	Op      string
	Operand *Dense
	Axes    []int
	Labels  []int
}

func (n broadcastNode) Grid() Grid { return n.Arg.Grid() }

func (n broadcastNode) slice() bigslice.Slice {
	op := binaryOps[n.Op]
	return bigslice.Map(n.Arg.slice(), func(key string, b Block) (string, Block) {
		out := b
		out.Data = make([]float64, len(b.Data))
		idx := make([]int, len(n.Axes))
		eachIndex(b.Shape, func(i int, local []int) {
			for k, a := range n.Axes {
				idx[k] = b.Origin[a] + local[a]
			}
			if n.Labels != nil {
				idx[0] = n.Labels[idx[0]]
				if idx[0] < 0 {
					out.Data[i] = math.NaN()
					return
				}
			}
			out.Data[i] = op(b.Data[i], n.Operand.At(idx...))
		})
		return key, out
	})
}

// eachIndex calls fn with the linear and multi-dimensional index of every
// element of shape in row-major order.
func eachIndex(shape []int, fn func(i int, idx []int)) {
	idx := make([]int, len(shape))
	n := product(shape)
	for i := 0; i < n; i++ {
		fn(i, idx)
		for a := len(shape) - 1; a >= 0; a-- {
			idx[a]++
			if idx[a] < shape[a] {
				break
			}
			idx[a] = 0
		}
	}
}

// indexNode selects the window [Start, Stop) along every axis.
type indexNode struct {
	G     Grid
	Arg   Node
	Start []int
	Stop  []int
}

func (n indexNode) Grid() Grid { return n.G }

func (n indexNode) slice() bigslice.Slice {
	in := n.Arg.Grid()
	remap := make([][]int, in.Rank())
	for a := range remap {
		remap[a] = make([]int, len(in.Chunks[a]))
		off, next := 0, 0
		for c, l := range in.Chunks[a] {
			remap[a][c] = -1
			if max(off, n.Start[a]) < min(off+l, n.Stop[a]) {
				remap[a][c] = next
				next++
			}
			off += l
		}
	}
	selected := bigslice.Filter(n.Arg.slice(), func(key string, b Block) bool {
		for a, c := range b.Coords {
			if remap[a][c] < 0 {
				return false
			}
		}
		return true
	})
	return bigslice.Map(selected, func(key string, b Block) (string, Block) {
		coords := make([]int, len(b.Coords))
		off := make([]int, len(b.Coords))
		for a, c := range b.Coords {
			coords[a] = remap[a][c]
			if s := n.Start[a] - b.Origin[a]; s > 0 {
				off[a] = s
			}
		}
		out := newBlock(n.G, coords)
		zarr.CopyRegion(out.Data, out.Shape, make([]int, len(coords)), b.Data, b.Shape, off, out.Shape)
		return Key(coords), out
	})
}

// indexGrid returns the grid of the window [start, stop) of g.
func indexGrid(g Grid, start, stop []int) Grid {
	out := Grid{Shape: make([]int, g.Rank()), Chunks: make([][]int, g.Rank())}
	for a := range g.Shape {
		out.Shape[a] = stop[a] - start[a]
		off := 0
		for _, l := range g.Chunks[a] {
			lo, hi := off, off+l
			if lo < start[a] {
				lo = start[a]
			}
			if hi > stop[a] {
				hi = stop[a]
			}
			if hi > lo {
				out.Chunks[a] = append(out.Chunks[a], hi-lo)
			}
			off += l
		}
	}
	return out
}

// reduceNode aggregates away Axes, leaving them with length one.
type reduceNode struct {
	G          Grid
	Arg        Node
	Axes       []int
	Kind       Kind
	Weights    []float64
	WeightAxis int
}

func (n reduceNode) Grid() Grid { return n.G }

func (n reduceNode) slice() bigslice.Slice {
	reduced := make([]bool, n.G.Rank())
	for _, a := range n.Axes {
		reduced[a] = true
	}
	partials := bigslice.Map(n.Arg.slice(), func(key string, b Block) (string, Partial) {
		coords := append([]int(nil), b.Coords...)
		maps := make([][]int, len(b.Shape))
		for a := range maps {
			maps[a] = make([]int, b.Shape[a])
			if reduced[a] {
				coords[a] = 0
				continue
			}
			for i := range maps[a] {
				maps[a][i] = i
			}
		}
		return Key(coords), accumulate(n.Kind, b, n.G, coords, maps, n.Weights, n.WeightAxis)
	})
	return finish(bigslice.Reduce(partials, combine))
}

// groupNode aggregates along Axis by integer label, producing one element
// per group.
type groupNode struct {
	G      Grid
	Arg    Node
	Axis   int
	Labels []int
	Kind   Kind
}

func (n groupNode) Grid() Grid { return n.G }

func (n groupNode) slice() bigslice.Slice {
	partials := bigslice.Map(n.Arg.slice(), func(key string, b Block) (string, Partial) {
		coords := append([]int(nil), b.Coords...)
		coords[n.Axis] = 0
		maps := make([][]int, len(b.Shape))
		for a := range maps {
			maps[a] = make([]int, b.Shape[a])
			for i := range maps[a] {
				if a == n.Axis {
					maps[a][i] = n.Labels[b.Origin[a]+i]
				} else {
					maps[a][i] = i
				}
			}
		}
		return Key(coords), accumulate(n.Kind, b, n.G, coords, maps, nil, 0)
	})
	return finish(bigslice.Reduce(partials, combine))
}

// rechunkNode changes the chunking along Axis to that of G. Every input
// block is cut into the pieces that fall into each output chunk, and the
// pieces of an output chunk are brought together by a cogroup on its key.
type rechunkNode struct {
	G    Grid
	Arg  Node
	Axis int
}

func (n rechunkNode) Grid() Grid { return n.G }

func (n rechunkNode) slice() bigslice.Slice {
	ax := n.Axis
	pieces := bigslice.Flatmap(n.Arg.slice(), func(key string, b Block) ([]string, []Block) {
		var (
			keys []string
			out  []Block
		)
		lo, hi := b.Origin[ax], b.Origin[ax]+b.Shape[ax]
		off := 0
		for c, l := range n.G.Chunks[ax] {
			start, stop := max(off, lo), min(off+l, hi)
			off += l
			if start >= stop {
				continue
			}
			p := Block{
				Coords: append([]int(nil), b.Coords...),
				Origin: append([]int(nil), b.Origin...),
				Shape:  append([]int(nil), b.Shape...),
			}
			p.Coords[ax], p.Origin[ax], p.Shape[ax] = c, start, stop-start
			p.Data = make([]float64, product(p.Shape))
			src := make([]int, len(b.Shape))
			src[ax] = start - lo
			zarr.CopyRegion(p.Data, p.Shape, make([]int, len(p.Shape)), b.Data, b.Shape, src, p.Shape)
			keys = append(keys, Key(p.Coords))
			out = append(out, p)
		}
		return keys, out
	})
	return bigslice.Map(bigslice.Cogroup(pieces), func(key string, ps []Block) (string, Block) {
		out := newBlock(n.G, ps[0].Coords)
		for _, p := range ps {
			dst := make([]int, len(p.Shape))
			dst[ax] = p.Origin[ax] - out.Origin[ax]
			zarr.CopyRegion(out.Data, out.Shape, dst, p.Data, p.Shape, make([]int, len(p.Shape)), p.Shape)
		}
		return key, out
	})
}

func finish(partials bigslice.Slice) bigslice.Slice {
	return bigslice.Map(partials, func(key string, p Partial) (string, Block) {
		return key, p.finish()
	})
}

// rollingNode computes moving-window aggregates along an axis held in a
// single chunk.
type rollingNode struct {
	Arg        Node
	Axis       int
	Kind       Kind
	Window     int
	Center     bool
	MinPeriods int
}

func (n rollingNode) Grid() Grid { return n.Arg.Grid() }

func (n rollingNode) slice() bigslice.Slice {
	return bigslice.Map(n.Arg.slice(), func(key string, b Block) (string, Block) {
		return key, roll(b, n.Axis, n.Kind, n.Window, n.Center, n.MinPeriods)
	})
}

// squeezeNode drops length-one axes.
type squeezeNode struct {
	G    Grid
	Arg  Node
	Axes []int
}

func (n squeezeNode) Grid() Grid { return n.G }

func (n squeezeNode) slice() bigslice.Slice {
	drop := make(map[int]bool)
	for _, a := range n.Axes {
		drop[a] = true
	}
	return bigslice.Map(n.Arg.slice(), func(key string, b Block) (string, Block) {
		out := Block{Data: b.Data}
		for a := range b.Coords {
			if drop[a] {
				continue
			}
			out.Coords = append(out.Coords, b.Coords[a])
			out.Origin = append(out.Origin, b.Origin[a])
			out.Shape = append(out.Shape, b.Shape[a])
		}
		return Key(out.Coords), out
	})
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
