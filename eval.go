package gridscale

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/bigslice/sliceio"
	"github.com/qri-io/gridscale/zarr"
)

// evaluate turns an expression graph into its slice of (chunk key, Block)
// rows. Funcs must be package-level so that workers can find them.
var evaluate = bigslice.Func(func(n Node) bigslice.Slice {
	return n.slice()
})

// persist writes every block of an expression graph to the zarr array at
// path in the directory store dir, which must already exist.
var persist = bigslice.Func(func(n Node, dir, path string) bigslice.Slice {
	return bigslice.Scan(n.slice(), func(shard int, scan *sliceio.Scanner) error {
		arr, err := openZarr(dir, path, zarr.ModeReadWrite)
		if err != nil {
			return err
		}
		var (
			ctx = context.Background()
			key string
			b   Block
			n   int
		)
		for scan.Scan(ctx, &key, &b) {
			if err := arr.WriteRegion(b.Coords, b.Shape, b.Data); err != nil {
				return errors.E(fmt.Sprintf("gridscale: write chunk %s of %s/%s", key, dir, path), err)
			}
			n++
		}
		log.Debug.Printf("gridscale: shard %d wrote %d chunks to %s/%s", shard, n, dir, path)
		return scan.Err()
	})
})

// Compute evaluates a in sess and returns its values. Chunks that produce
// no output, such as reductions over an empty axis, are NaN.
func Compute(ctx context.Context, sess *exec.Session, a Array) (*Dense, error) {
	start := time.Now()
	g := a.Grid()
	res, err := sess.Run(ctx, evaluate, a.node)
	if err != nil {
		return nil, errors.E("gridscale: compute", err)
	}
	d := NewDense(g.Shape, math.NaN())
	scanner := res.Scanner()
	var (
		key string
		b   Block
		n   int
	)
	for scanner.Scan(ctx, &key, &b) {
		d.paste(b)
		n++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E("gridscale: compute", err)
	}
	log.Printf("gridscale: computed %d of %d chunks (%s) in %s", n, g.Len(), g, time.Since(start))
	return d, nil
}

// PersistOptions configures Persist.
type PersistOptions struct {
	// Compressor is the zarr codec id: "zstd", "gzip", or empty for none.
	Compressor string
	// Dtype is the stored element type; the zero value means float64.
	Dtype zarr.Dtype
	// Mode is the zarr persistence mode used to create the array; the zero
	// value means overwrite.
	Mode zarr.PersistenceMode
	// Attrs are written as the array's .zattrs.
	Attrs map[string]interface{}
}

// Persist evaluates a in sess and stores it as a zarr array at path in the
// directory store dir. The array's chunking becomes the zarr chunk shape,
// so every chunk but the last along each axis must be the same length. The
// store's metadata is consolidated once all chunks are written.
func Persist(ctx context.Context, sess *exec.Session, a Array, dir, path string, opts PersistOptions) error {
	start := time.Now()
	g := a.Grid()
	chunk, ok := g.Regular()
	if !ok {
		return errors.E(errors.Invalid, fmt.Sprintf("gridscale: persist: irregular chunks %v cannot be stored as zarr; rechunk first", g.Chunks))
	}
	comp, err := zarr.ParseCompressor(opts.Compressor)
	if err != nil {
		return errors.E(errors.Invalid, "gridscale: persist", err)
	}
	dt := opts.Dtype
	if dt == (zarr.Dtype{}) {
		dt = zarr.Float64
	}
	mode := opts.Mode
	if mode == "" {
		mode = zarr.ModeWrite
	}
	meta := zarr.NewArrayMeta(g.Shape, chunk, dt)
	meta.Compressor = comp
	store, err := zarr.NewLocalStore(dir)
	if err != nil {
		return errors.E(fmt.Sprintf("gridscale: persist: store %s", dir), err)
	}
	if _, err := zarr.Create(store, path, meta, mode); err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("gridscale: persist: create %s/%s", dir, path), err)
	}
	if len(opts.Attrs) > 0 {
		if err := zarr.WriteAttrs(store, path, opts.Attrs); err != nil {
			return errors.E(fmt.Sprintf("gridscale: persist: attributes of %s/%s", dir, path), err)
		}
	}
	if _, err := sess.Run(ctx, persist, a.node, dir, path); err != nil {
		return errors.E(fmt.Sprintf("gridscale: persist %s/%s", dir, path), err)
	}
	if err := zarr.Consolidate(store); err != nil {
		return errors.E(fmt.Sprintf("gridscale: persist: consolidate %s", dir), err)
	}
	log.Printf("gridscale: persisted %s to %s/%s in %s", g, dir, path, time.Since(start))
	return nil
}
