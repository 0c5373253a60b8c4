package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice/exec"
	"github.com/qri-io/gridscale"
	"github.com/spf13/cobra"
)

var randomShape, randomChunks []int

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Index, reduce and combine a random chunked array",
	Long: `Build a lazily evaluated random array, then index a corner of it, reduce it
as a whole and along an axis, and combine it arithmetically with itself.

Examples:
  gridscale random
  gridscale random --shape 2000,2000 --chunk-shape 500,500 --seed 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, sess *exec.Session) error {
			return randomDemo(ctx, sess, os.Stdout, randomShape, randomChunks, cfg.Seed)
		})
	},
}

func init() {
	randomCmd.Flags().IntSliceVar(&randomShape, "shape", []int{10000, 10000}, "array shape")
	randomCmd.Flags().IntSliceVar(&randomChunks, "chunk-shape", []int{1000, 1000}, "chunk shape of the random array")
	randomCmd.Flags().Int64("seed", 0, "random seed")
}

func randomDemo(ctx context.Context, sess *exec.Session, w io.Writer, shape, chunks []int, seed int64) error {
	if len(shape) != len(chunks) {
		return errors.E(errors.Invalid, fmt.Sprintf("gridscale: shape %v and chunks %v differ in rank", shape, chunks))
	}
	x := gridscale.Random(shape, chunks, seed)
	fmt.Fprintf(w, "x: %s, %d chunks\n", x, x.Grid().Len())

	corner := make([]gridscale.Range, x.Rank())
	for i := range corner {
		corner[i] = gridscale.Span(0, 3)
	}
	d, err := gridscale.Compute(ctx, sess, x.Index(corner...))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "x[:3, ...]: %v\n", d.Data)

	scalar := func(name string, a gridscale.Array) (float64, error) {
		d, err := gridscale.Compute(ctx, sess, a)
		if err != nil {
			return 0, err
		}
		v := d.Scalar()
		fmt.Fprintf(w, "%s: %.6f\n", name, v)
		return v, nil
	}
	if _, err := scalar("x.sum()", x.Sum()); err != nil {
		return err
	}
	mean, err := scalar("x.mean()", x.Mean())
	if err != nil {
		return err
	}
	if x.Rank() > 1 {
		d, err := gridscale.Compute(ctx, sess, x.Mean(0).Squeeze(0).Index(gridscale.Span(0, 5)))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "x.mean(axis=0)[:5]: %v\n", d.Data)
	}
	y := x.Add(x.MulScalar(2))
	if _, err := scalar("(x + 2x).mean()", y.Mean()); err != nil {
		return err
	}
	if _, err := scalar("((x - x.mean())**2).mean()", x.AddScalar(-mean).Pow(2).Mean()); err != nil {
		return err
	}
	log.Printf("random: done with %s", x.Grid())
	return nil
}
