package dataset

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigslice/exec"
	"github.com/qri-io/gridscale"
	"github.com/qri-io/gridscale/ncfile"
	"gonum.org/v1/gonum/floats"
)

// EarthRadius is the mean radius of the earth in meters.
const EarthRadius = 6371e3

// derive returns a variable named like v holding data over dims. Coordinates
// of v for the remaining dims are kept unless overridden.
func (v *Variable) derive(data gridscale.Array, dims []string, coords map[string]Coord) *Variable {
	out := &Variable{
		Name:   v.Name,
		Dims:   dims,
		Attrs:  v.Attrs,
		Data:   data,
		Coords: make(map[string]Coord),
	}
	for _, d := range dims {
		if c, ok := coords[d]; ok {
			out.Coords[d] = c
		} else if c, ok := v.Coords[d]; ok {
			out.Coords[d] = c
		}
	}
	return out
}

// axes resolves dimension names; no names means every dimension.
func (v *Variable) axes(dims []string) ([]int, error) {
	if len(dims) == 0 {
		axes := make([]int, len(v.Dims))
		for i := range axes {
			axes[i] = i
		}
		return axes, nil
	}
	axes := make([]int, len(dims))
	for i, d := range dims {
		ax, err := v.Dim(d)
		if err != nil {
			return nil, err
		}
		axes[i] = ax
	}
	sort.Ints(axes)
	return axes, nil
}

// without returns v.Dims less the given axes.
func (v *Variable) without(axes []int) []string {
	drop := make(map[int]bool, len(axes))
	for _, ax := range axes {
		drop[ax] = true
	}
	var dims []string
	for i, d := range v.Dims {
		if !drop[i] {
			dims = append(dims, d)
		}
	}
	return dims
}

// ISel selects index ranges of the named dimensions. Dimensions are kept,
// including those reduced to length one; see Squeeze.
func (v *Variable) ISel(sel map[string]gridscale.Range) (*Variable, error) {
	shape := v.Shape()
	ranges := make([]gridscale.Range, len(v.Dims))
	for i := range ranges {
		ranges[i] = gridscale.All()
	}
	for d, r := range sel {
		ax, err := v.Dim(d)
		if err != nil {
			return nil, err
		}
		ranges[ax] = r
	}
	coords := make(map[string]Coord)
	for i, d := range v.Dims {
		start, stop := ranges[i].Bounds(shape[i])
		if start == stop {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: empty selection of %s", v.Name, d))
		}
		if c, ok := v.Coords[d]; ok {
			coords[d] = c.slice(start, stop)
		}
	}
	return v.derive(v.Data.Index(ranges...), v.Dims, coords), nil
}

// Sel selects the elements of dim whose coordinate lies between lo and hi
// inclusive. The coordinate must be sorted, in either direction; lo and hi
// may be given in either order.
func (v *Variable) Sel(dim string, lo, hi float64) (*Variable, error) {
	c, ok := v.Coords[dim]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("dataset: %s: no coordinate for %s", v.Name, dim))
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	start, stop := -1, -1
	for i, x := range c.Values {
		if x >= lo && x <= hi {
			if start < 0 {
				start = i
			}
			stop = i + 1
		}
	}
	if start < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: no %s coordinate in [%g, %g]", v.Name, dim, lo, hi))
	}
	return v.ISel(map[string]gridscale.Range{dim: gridscale.Span(start, stop)})
}

// SelTime selects the time steps in [from, to].
func (v *Variable) SelTime(from, to time.Time) (*Variable, error) {
	ax, c, err := v.timeAxis()
	if err != nil {
		return nil, err
	}
	start, stop := -1, -1
	for i, t := range c.Times {
		if !t.IsZero() && !t.Before(from) && !t.After(to) {
			if start < 0 {
				start = i
			}
			stop = i + 1
		}
	}
	if start < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: no times in [%s, %s]", v.Name, from.Format(time.RFC3339), to.Format(time.RFC3339)))
	}
	return v.ISel(map[string]gridscale.Range{v.Dims[ax]: gridscale.Span(start, stop)})
}

// Squeeze drops the variable's length-one dimensions.
func (v *Variable) Squeeze() *Variable {
	var axes []int
	for i, n := range v.Shape() {
		if n == 1 {
			axes = append(axes, i)
		}
	}
	if len(axes) == 0 {
		return v
	}
	return v.derive(v.Data.Squeeze(axes...), v.without(axes), nil)
}

// Reduce aggregates v over the named dimensions (all of them if none are
// given), which are dropped from the result.
func (v *Variable) Reduce(kind gridscale.Kind, dims ...string) (*Variable, error) {
	axes, err := v.axes(dims)
	if err != nil {
		return nil, err
	}
	data := v.Data.Reduce(kind, axes...).Squeeze(axes...)
	return v.derive(data, v.without(axes), nil), nil
}

// Mean averages v over the named dimensions.
func (v *Variable) Mean(dims ...string) (*Variable, error) {
	return v.Reduce(gridscale.Mean, dims...)
}

// edges returns the n+1 cell boundaries around the n centres c: midpoints
// between neighbours, with the outer edges extrapolated by half a cell.
func edges(c []float64) []float64 {
	n := len(c)
	e := make([]float64, n+1)
	if n == 1 {
		e[0], e[1] = c[0]-0.5, c[0]+0.5
		return e
	}
	for i := 1; i < n; i++ {
		e[i] = (c[i-1] + c[i]) / 2
	}
	e[0] = c[0] - (c[1]-c[0])/2
	e[n] = c[n-1] + (c[n-1]-c[n-2])/2
	return e
}

func clampLat(x float64) float64 {
	return math.Max(-90, math.Min(90, x))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// AreaWeights returns, for every latitude row, the area in square meters of
// a cell one degree of longitude wide. It is proportional to the cosine of
// latitude, which makes it the usual weight for global means.
func AreaWeights(lat []float64) []float64 {
	e := edges(lat)
	w := make([]float64, len(lat))
	for i := range w {
		w[i] = math.Abs(math.Sin(radians(clampLat(e[i+1]))) - math.Sin(radians(clampLat(e[i]))))
	}
	floats.Scale(EarthRadius*EarthRadius*math.Pi/180, w)
	return w
}

// CellArea returns the area in square meters of every cell of the
// (lat, lon) grid with the given cell centres.
func CellArea(lat, lon []float64) *gridscale.Dense {
	rows := AreaWeights(lat)
	e := edges(lon)
	d := gridscale.NewDense([]int{len(lat), len(lon)}, 0)
	for j := range lon {
		width := math.Abs(e[j+1] - e[j])
		for i, r := range rows {
			d.Set(r*width, i, j)
		}
	}
	return d
}

// WeightedMean averages v over dims, weighting every element by
// weights[i], where i is its index along weightDim. NaN elements carry no
// weight.
func WeightedMean(v *Variable, weights []float64, weightDim string, dims ...string) (*Variable, error) {
	wax, err := v.Dim(weightDim)
	if err != nil {
		return nil, err
	}
	if n := v.Shape()[wax]; len(weights) != n {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: %d weights for %s of length %d", v.Name, len(weights), weightDim, n))
	}
	axes, err := v.axes(dims)
	if err != nil {
		return nil, err
	}
	data := v.Data.WeightedReduce(gridscale.Mean, weights, wax, axes...).Squeeze(axes...)
	return v.derive(data, v.without(axes), nil), nil
}

// GlobalMean is the area-weighted mean of v over its lat and lon
// dimensions.
func GlobalMean(v *Variable) (*Variable, error) {
	lat, ok := v.Coords["lat"]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("dataset: %s: no lat coordinate", v.Name))
	}
	return WeightedMean(v, AreaWeights(lat.Values), "lat", "lat", "lon")
}

// timeAxis returns the axis and coordinate of v's time dimension: the
// first dimension whose coordinate holds decoded times.
func (v *Variable) timeAxis() (int, Coord, error) {
	for i, d := range v.Dims {
		if c, ok := v.Coords[d]; ok && c.Times != nil {
			return i, c, nil
		}
	}
	return -1, Coord{}, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s has no time coordinate", v.Name))
}

// GroupByMonth labels every time step of v with its calendar month, 0 for
// January through 11 for December. Missing times are labeled -1.
func GroupByMonth(v *Variable) ([]int, error) {
	_, c, err := v.timeAxis()
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(c.Times))
	for i, t := range c.Times {
		if t.IsZero() {
			labels[i] = -1
			continue
		}
		labels[i] = int(t.Month()) - 1
	}
	return labels, nil
}

// Climatology aggregates v over all time steps falling in the same
// calendar month. The time dimension is replaced by "month", with
// coordinate values 1 through 12.
func Climatology(v *Variable, kind gridscale.Kind) (*Variable, error) {
	ax, _, err := v.timeAxis()
	if err != nil {
		return nil, err
	}
	labels, err := GroupByMonth(v)
	if err != nil {
		return nil, err
	}
	dims := append([]string(nil), v.Dims...)
	dims[ax] = "month"
	month := Coord{Name: "month", Values: make([]float64, 12)}
	for i := range month.Values {
		month.Values[i] = float64(i + 1)
	}
	data := v.Data.GroupReduce(kind, ax, labels, 12)
	return v.derive(data, dims, map[string]Coord{"month": month}), nil
}

// Anomaly computes the monthly mean climatology of v in sess and returns v
// less the climatology of each element's month. The subtraction is lazy.
// Time must be v's first dimension.
func Anomaly(ctx context.Context, sess *exec.Session, v *Variable) (*Variable, error) {
	ax, _, err := v.timeAxis()
	if err != nil {
		return nil, err
	}
	if ax != 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: anomaly needs time as the first dimension, got %v", v.Name, v.Dims))
	}
	clim, err := Climatology(v, gridscale.Mean)
	if err != nil {
		return nil, err
	}
	mean, err := gridscale.Compute(ctx, sess, clim.Data)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("dataset: %s: climatology", v.Name), err)
	}
	labels, err := GroupByMonth(v)
	if err != nil {
		return nil, err
	}
	axes := make([]int, len(v.Dims))
	for i := range axes {
		axes[i] = i
	}
	out := v.derive(v.Data.Broadcast("sub", mean, axes, labels), v.Dims, nil)
	out.Name = v.Name + "_anomaly"
	return out, nil
}

// periodStart returns the start of the period of freq containing t.
func periodStart(t time.Time, freq string) time.Time {
	y, m, _ := t.Date()
	switch freq {
	case "MS":
	case "QS":
		m = time.Month((int(m)-1)/3*3 + 1)
	default:
		m = time.January
	}
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

var frequencies = map[string]string{
	"YS": "YS",
	"AS": "YS",
	"QS": "QS",
	"MS": "MS",
}

// Resample aggregates v's time steps into periods of freq: "YS" or "AS"
// (years), "QS" (quarters) or "MS" (months). The time coordinate of the
// result holds the period starts. Periods without time steps are not
// represented.
func Resample(v *Variable, freq string, kind gridscale.Kind) (*Variable, error) {
	f, ok := frequencies[strings.ToUpper(freq)]
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: unknown resample frequency %q", freq))
	}
	ax, c, err := v.timeAxis()
	if err != nil {
		return nil, err
	}
	index := make(map[time.Time]int)
	var starts []time.Time
	for _, t := range c.Times {
		if t.IsZero() {
			continue
		}
		s := periodStart(t, f)
		if _, ok := index[s]; !ok {
			index[s] = -1
			starts = append(starts, s)
		}
	}
	if len(starts) == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: no valid times to resample", v.Name))
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i, s := range starts {
		index[s] = i
	}
	labels := make([]int, len(c.Times))
	for i, t := range c.Times {
		if t.IsZero() {
			labels[i] = -1
			continue
		}
		labels[i] = index[periodStart(t, f)]
	}
	tc := Coord{Name: c.Name, Attrs: c.Attrs, Times: starts, Values: make([]float64, len(starts))}
	units, _ := c.Attrs.String("units")
	u, uerr := ncfile.ParseTimeUnits(units)
	for i, s := range starts {
		if uerr == nil {
			tc.Values[i] = u.Value(s)
		} else {
			tc.Values[i] = float64(s.Unix())
		}
	}
	data := v.Data.GroupReduce(kind, ax, labels, len(starts))
	return v.derive(data, v.Dims, map[string]Coord{v.Dims[ax]: tc}), nil
}

// Rolling computes a moving-window aggregate of v along dim. See
// gridscale.Array.Rolling for the meaning of center and minPeriods.
func Rolling(v *Variable, dim string, window int, center bool, minPeriods int, kind gridscale.Kind) (*Variable, error) {
	ax, err := v.Dim(dim)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: rolling window must be positive, got %d", window))
	}
	return v.derive(v.Data.Rolling(kind, ax, window, center, minPeriods), v.Dims, nil), nil
}
