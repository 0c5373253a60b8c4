package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice/exec"
	"github.com/qri-io/gridscale"
	"github.com/qri-io/gridscale/zarr"
	"github.com/spf13/cobra"
)

var persistReopen bool

var persistCmd = &cobra.Command{
	Use:   "persist",
	Short: "Write a variable to a zarr store",
	Long: `Write the variable named by --var to the zarr directory store --out, one zarr
chunk per array chunk. With --reopen, the stored array is read back lazily and
its mean is reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, sess *exec.Session) error {
			return persistVar(ctx, sess, os.Stdout, cfg, persistReopen)
		})
	},
}

func init() {
	persistCmd.Flags().String("compressor", "zstd", "zarr compressor: zstd, gzip or none")
	persistCmd.Flags().BoolVar(&persistReopen, "reopen", false, "read the stored array back and report its mean")
}

func persistVar(ctx context.Context, sess *exec.Session, w io.Writer, c *Config, reopen bool) error {
	v, err := openVar(ctx, c)
	if err != nil {
		return err
	}
	data := regularize(v.Data)
	if !data.Grid().Equal(v.Data.Grid()) {
		log.Printf("persist: %s has irregular chunks %v; rechunked to %v", v.Name, v.Data.Grid().Chunks, data.Grid().Chunks)
	}
	attrs := map[string]interface{}{"_ARRAY_DIMENSIONS": v.Dims}
	for k, val := range v.Attrs {
		attrs[k] = val
	}
	if err := os.MkdirAll(c.Out, 0777); err != nil {
		return err
	}
	opts := gridscale.PersistOptions{Compressor: c.Compressor, Mode: zarr.ModeWrite, Attrs: attrs}
	if err := gridscale.Persist(ctx, sess, data, c.Out, v.Name, opts); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s to %s/%s\n", v, c.Out, v.Name)
	if !reopen {
		return nil
	}
	a, err := gridscale.FromZarr(c.Out, v.Name)
	if err != nil {
		return err
	}
	d, err := gridscale.Compute(ctx, sess, a.Mean())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "reopened %s: mean %.4f\n", a, d.Scalar())
	return nil
}

// regularize rechunks every irregular axis of a to the length of its first
// chunk, so that it can be stored as zarr.
func regularize(a gridscale.Array) gridscale.Array {
	if _, ok := a.Grid().Regular(); ok {
		return a
	}
	for axis, cs := range a.Grid().Chunks {
		if len(cs) > 0 {
			a = a.Rechunk(axis, cs[0])
		}
	}
	return a
}
