// Package gridscale provides lazily evaluated, chunked, multidimensional
// arrays whose computations run on bigslice.
//
// An Array is an expression graph over chunks. Constructors such as Random,
// FromDense, FromZarr and FromNetCDF describe where chunks come from;
// operations such as Index, Add, Reduce, GroupReduce and Rolling describe
// how they are combined. Nothing is evaluated until the array is handed to
// Compute, which runs the graph in a bigslice session and assembles the
// result in memory, or Persist, which writes it chunk by chunk to a zarr
// store:
//
//	sess := exec.Start(exec.Local)
//	x := gridscale.Random([]int{10000, 10000}, []int{1000, 1000}, 0)
//	y := x.Add(x.MulScalar(2)).Mean(0)
//	d, err := gridscale.Compute(ctx, sess, y)
//
// Sessions started with exec.Bigmachine distribute the same computation
// across a cluster. Every chunk is addressed by its zarr-style key ("0.3"),
// and reductions combine per-chunk partial aggregates with bigslice.Reduce,
// so results do not depend on how chunks were scheduled.
package gridscale
