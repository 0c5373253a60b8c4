package dataset

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigslice/exec"
	"github.com/qri-io/gridscale"
	"github.com/qri-io/gridscale/ncfile"
	"github.com/qri-io/gridscale/plotting"
)

// Result is a computed variable.
type Result struct {
	Name   string
	Dims   []string
	Coords map[string]Coord
	Attrs  ncfile.Attrs
	Data   *gridscale.Dense
}

// Compute evaluates v in sess.
func Compute(ctx context.Context, sess *exec.Session, v *Variable) (*Result, error) {
	d, err := gridscale.Compute(ctx, sess, v.Data)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("dataset: compute %s", v.Name), err)
	}
	return &Result{
		Name:   v.Name,
		Dims:   append([]string(nil), v.Dims...),
		Coords: v.Coords,
		Attrs:  v.Attrs,
		Data:   d,
	}, nil
}

// axis returns the coordinate values of dimension i, or its indices when
// it has no coordinate.
func (r *Result) axis(i int) []float64 {
	if c, ok := r.Coords[r.Dims[i]]; ok {
		return c.Values
	}
	x := make([]float64, r.Data.Shape[i])
	for j := range x {
		x[j] = float64(j)
	}
	return x
}

// Series returns a one-dimensional result as a plottable series. A time
// coordinate becomes the series' time axis.
func (r *Result) Series() (plotting.Series, error) {
	if len(r.Dims) != 1 {
		return plotting.Series{}, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s has dimensions %v, want one", r.Name, r.Dims))
	}
	s := plotting.Series{Name: r.Name, Y: r.Data.Data}
	if c, ok := r.Coords[r.Dims[0]]; ok && c.Times != nil {
		s.Times = c.Times
	} else {
		s.X = r.axis(0)
	}
	return s, nil
}

// Field returns a two-dimensional result as a plottable field, with the
// first dimension along y and the second along x.
func (r *Result) Field() (plotting.Field, error) {
	if len(r.Dims) != 2 {
		return plotting.Field{}, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s has dimensions %v, want two", r.Name, r.Dims))
	}
	return plotting.Field{
		Name:   r.Name,
		Ys:     r.axis(0),
		Xs:     r.axis(1),
		Values: r.Data.Data,
	}, nil
}
