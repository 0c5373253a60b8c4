package dataset_test

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/qri-io/gridscale"
	"github.com/qri-io/gridscale/dataset"
	"github.com/qri-io/gridscale/ncfile/ncfiletest"
	"gonum.org/v1/gonum/floats"
)

var epoch = time.Date(1981, 1, 1, 0, 0, 0, 0, time.UTC)

// writeYear writes twelve monthly (time, lat, lon) sst fields for year
// 1981+y. Every valid cell of month m holds 10*y+m; cell (1, 2) is land.
func writeYear(t *testing.T, dir string, y int, lat []float32, mask bool) {
	t.Helper()
	times := make([]float64, 12)
	sst := make([][][]float32, 12)
	for m := range times {
		times[m] = time.Date(1981+y, time.Month(m+1), 15, 0, 0, 0, 0, time.UTC).Sub(epoch).Hours() / 24
		sst[m] = make([][]float32, len(lat))
		for i := range lat {
			sst[m][i] = make([]float32, 3)
			for j := range sst[m][i] {
				sst[m][i][j] = float32(10*y + m)
			}
		}
		sst[m][1][2] = -999
	}
	vars := []ncfiletest.Var{
		{
			Name:   "time",
			Dims:   []string{"time"},
			Values: times,
			Attrs:  map[string]interface{}{"units": "days since 1981-01-01 00:00:00"},
		},
		{Name: "lat", Dims: []string{"lat"}, Values: lat},
		{Name: "lon", Dims: []string{"lon"}, Values: []float32{0, 120, 240}},
		{
			Name:   "sst",
			Dims:   []string{"time", "lat", "lon"},
			Values: sst,
			Attrs:  map[string]interface{}{"units": "degC", "_FillValue": float32(-999)},
		},
	}
	if mask {
		vars = append(vars, ncfiletest.Var{
			Name:   "mask",
			Dims:   []string{"lat", "lon"},
			Values: [][]float32{{1, 1, 1}, {1, 1, 0}},
		})
	}
	path := filepath.Join(dir, fmt.Sprintf("sst.%d.nc", 1981+y))
	assert.NoError(t, ncfiletest.Write(path, map[string]interface{}{"title": "monthly sst"}, vars...))
}

func open(t *testing.T) (*dataset.Dataset, func()) {
	t.Helper()
	dir, cleanup := testutil.TempDir(t, "", "")
	writeYear(t, dir, 0, []float32{-45, 45}, true)
	writeYear(t, dir, 1, []float32{-45, 45}, true)
	ds, err := dataset.OpenMF(context.Background(), filepath.Join(dir, "*.nc"), dataset.Options{
		Chunks: map[string]int{"lon": 2},
	})
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	return ds, cleanup
}

func sst(t *testing.T, ds *dataset.Dataset) *dataset.Variable {
	t.Helper()
	v, err := ds.Var("sst")
	assert.NoError(t, err)
	return v
}

func compute(t *testing.T, sess *exec.Session, v *dataset.Variable) *dataset.Result {
	t.Helper()
	r, err := dataset.Compute(context.Background(), sess, v)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func expectValues(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if math.IsNaN(want[i]) != math.IsNaN(got[i]) || (!math.IsNaN(want[i]) && math.Abs(got[i]-want[i]) > 1e-9) {
			t.Errorf("element %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

// monthly returns the expected global mean series: 10*y+m for two years.
func monthly() []float64 {
	var want []float64
	for y := 0; y < 2; y++ {
		for m := 0; m < 12; m++ {
			want = append(want, float64(10*y+m))
		}
	}
	return want
}

func TestOpenMF(t *testing.T) {
	ds, cleanup := open(t)
	defer cleanup()
	expect.EQ(t, len(ds.Files), 2)
	expect.EQ(t, ds.Dims, []string{"time", "lat", "lon"})
	expect.EQ(t, ds.Sizes, map[string]int{"time": 24, "lat": 2, "lon": 3})
	expect.EQ(t, ds.Names(), []string{"mask", "sst"})
	title, _ := ds.Attrs.String("title")
	expect.EQ(t, title, "monthly sst")

	tc := ds.Coords["time"]
	assert.EQ(t, len(tc.Times), 24)
	expect.True(t, tc.Times[0].Equal(time.Date(1981, 1, 15, 0, 0, 0, 0, time.UTC)))
	expect.True(t, tc.Times[23].Equal(time.Date(1982, 12, 15, 0, 0, 0, 0, time.UTC)))
	expect.EQ(t, ds.Coords["lat"].Values, []float64{-45, 45})

	v := sst(t, ds)
	expect.EQ(t, v.Dims, []string{"time", "lat", "lon"})
	expect.EQ(t, v.Data.Grid().Chunks, [][]int{{12, 12}, {2}, {2, 1}})
	mask, err := ds.Var("mask")
	assert.NoError(t, err)
	expect.EQ(t, mask.Shape(), []int{2, 3})

	_, err = ds.Var("salinity")
	expect.True(t, errors.Is(errors.NotExist, err))

	var b bytes.Buffer
	assert.NoError(t, ds.Describe(&b))
	out := b.String()
	for _, want := range []string{"sst(time: 24, lat: 2, lon: 3)", "degC", "1981-01-15 .. 1982-12-15", "monthly sst"} {
		if !strings.Contains(out, want) {
			t.Errorf("description does not contain %q:\n%s", want, out)
		}
	}
}

func TestOpenMFErrors(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	_, err := dataset.OpenMF(ctx, filepath.Join(dir, "*.nc"), dataset.Options{})
	expect.True(t, errors.Is(errors.NotExist, err))
	_, err = dataset.OpenMF(ctx, "[", dataset.Options{})
	expect.True(t, errors.Is(errors.Invalid, err))

	for i, c := range []struct {
		lat  []float32
		mask bool
	}{
		{[]float32{-40, 45}, true},
		{[]float32{-45, 45}, false},
	} {
		sub := filepath.Join(dir, fmt.Sprint(i))
		assert.NoError(t, os.Mkdir(sub, 0777))
		writeYear(t, sub, 0, []float32{-45, 45}, true)
		writeYear(t, sub, 1, c.lat, c.mask)
		_, err = dataset.OpenMF(ctx, filepath.Join(sub, "*.nc"), dataset.Options{})
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("case %d: got %v, want invalid", i, err)
		}
	}
}

func TestSelReduce(t *testing.T) {
	sess := exec.Start(exec.Local)
	ds, cleanup := open(t)
	defer cleanup()
	v := sst(t, ds)

	north, err := v.Sel("lat", 90, 0)
	assert.NoError(t, err)
	expect.EQ(t, north.Shape(), []int{24, 1, 3})
	expect.EQ(t, north.Coords["lat"].Values, []float64{45})
	_, err = v.Sel("lat", 50, 60)
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = v.Sel("depth", 0, 1)
	expect.True(t, errors.Is(errors.NotExist, err))

	y2, err := v.SelTime(time.Date(1982, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(1983, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	expect.EQ(t, y2.Shape(), []int{12, 2, 3})
	expect.True(t, y2.Coords["time"].Times[0].Equal(time.Date(1982, 1, 15, 0, 0, 0, 0, time.UTC)))

	first, err := v.ISel(map[string]gridscale.Range{"time": gridscale.At(0), "lon": gridscale.Span(1, gridscale.End)})
	assert.NoError(t, err)
	expect.EQ(t, first.Shape(), []int{1, 2, 2})
	expect.EQ(t, first.Coords["lon"].Values, []float64{120, 240})
	r := compute(t, sess, first.Squeeze())
	expect.EQ(t, r.Dims, []string{"lat", "lon"})
	expectValues(t, r.Data.Data, []float64{0, 0, 0, math.NaN()})
	_, err = v.ISel(map[string]gridscale.Range{"time": gridscale.Span(30, 40)})
	expect.True(t, errors.Is(errors.Invalid, err))

	ts, err := v.Mean("lat", "lon")
	assert.NoError(t, err)
	expect.EQ(t, ts.Dims, []string{"time"})
	expectValues(t, compute(t, sess, ts).Data.Data, monthly())

	all, err := v.Reduce(gridscale.Mean)
	assert.NoError(t, err)
	expect.EQ(t, len(all.Dims), 0)
	expect.EQ(t, compute(t, sess, all).Data.Scalar(), 10.5)

	_, err = v.Reduce(gridscale.Sum, "depth")
	expect.True(t, errors.Is(errors.NotExist, err))
}

func TestAreaWeights(t *testing.T) {
	r2 := dataset.EarthRadius * dataset.EarthRadius
	w := dataset.AreaWeights([]float64{-60, 0, 60})
	floats.Scale(1/(r2*math.Pi/180), w)
	expect.True(t, floats.EqualApprox(w, []float64{0.5, 1, 0.5}, 1e-9))

	area := dataset.CellArea([]float64{-45, 45}, []float64{0, 90, 180, 270})
	expect.EQ(t, area.Shape, []int{2, 4})
	sphere := 4 * math.Pi * r2
	if got := floats.Sum(area.Data); math.Abs(got-sphere)/sphere > 1e-9 {
		t.Errorf("total area %g, want %g", got, sphere)
	}
	expect.True(t, math.Abs(area.At(0, 0)-area.At(1, 3)) < 1e-3)
}

func TestWeightedMean(t *testing.T) {
	sess := exec.Start(exec.Local)
	d := gridscale.NewDense([]int{3, 2}, 0)
	copy(d.Data, []float64{1, 1, 2, 2, 3, math.NaN()})
	v := &dataset.Variable{
		Name: "v",
		Dims: []string{"lat", "lon"},
		Data: gridscale.FromDense(d, []int{2, 1}),
		Coords: map[string]dataset.Coord{
			"lat": {Name: "lat", Values: []float64{-60, 0, 60}},
		},
	}
	w := dataset.AreaWeights(v.Coords["lat"].Values)
	m, err := dataset.WeightedMean(v, w, "lat", "lat")
	assert.NoError(t, err)
	expect.EQ(t, m.Dims, []string{"lon"})
	expectValues(t, compute(t, sess, m).Data.Data, []float64{2, 5.0 / 3})

	g, err := dataset.GlobalMean(v)
	assert.NoError(t, err)
	expect.EQ(t, len(g.Dims), 0)
	expect.True(t, math.Abs(compute(t, sess, g).Data.Scalar()-(0.5+0.5+2+2+1.5)/3.5) < 1e-9)

	_, err = dataset.WeightedMean(v, w[:2], "lat", "lat")
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestClimatologyAnomaly(t *testing.T) {
	ctx := context.Background()
	sess := exec.Start(exec.Local)
	ds, cleanup := open(t)
	defer cleanup()
	v := sst(t, ds)

	labels, err := dataset.GroupByMonth(v)
	assert.NoError(t, err)
	expect.EQ(t, labels[:3], []int{0, 1, 2})
	expect.EQ(t, labels[12], 0)

	clim, err := dataset.Climatology(v, gridscale.Mean)
	assert.NoError(t, err)
	expect.EQ(t, clim.Dims, []string{"month", "lat", "lon"})
	expect.EQ(t, clim.Coords["month"].Values[11], 12.0)
	r := compute(t, sess, clim)
	expect.EQ(t, r.Data.Shape, []int{12, 2, 3})
	expect.EQ(t, r.Data.At(0, 0, 0), 5.0)
	expect.EQ(t, r.Data.At(11, 1, 1), 16.0)
	expect.True(t, math.IsNaN(r.Data.At(3, 1, 2)))

	anom, err := dataset.Anomaly(ctx, sess, v)
	assert.NoError(t, err)
	expect.EQ(t, anom.Name, "sst_anomaly")
	a := compute(t, sess, anom)
	expect.EQ(t, a.Data.At(0, 0, 0), -5.0)
	expect.EQ(t, a.Data.At(7, 1, 0), -5.0)
	expect.EQ(t, a.Data.At(12, 0, 1), 5.0)
	expect.True(t, math.IsNaN(a.Data.At(20, 1, 2)))

	nt := &dataset.Variable{Name: "x", Dims: []string{"lat"}, Data: gridscale.Zeros([]int{2}, nil)}
	_, err = dataset.Climatology(nt, gridscale.Mean)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestResampleRolling(t *testing.T) {
	sess := exec.Start(exec.Local)
	ds, cleanup := open(t)
	defer cleanup()
	ts, err := sst(t, ds).Mean("lat", "lon")
	assert.NoError(t, err)

	annual, err := dataset.Resample(ts, "YS", gridscale.Mean)
	assert.NoError(t, err)
	r := compute(t, sess, annual)
	expectValues(t, r.Data.Data, []float64{5.5, 15.5})
	tc := r.Coords["time"]
	expect.True(t, tc.Times[1].Equal(time.Date(1982, 1, 1, 0, 0, 0, 0, time.UTC)))
	expect.EQ(t, tc.Values, []float64{0, 365})

	quarterly, err := dataset.Resample(ts, "qs", gridscale.Max)
	assert.NoError(t, err)
	expectValues(t, compute(t, sess, quarterly).Data.Data, []float64{2, 5, 8, 11, 12, 15, 18, 21})

	monthlyMean, err := dataset.Resample(ts, "MS", gridscale.Mean)
	assert.NoError(t, err)
	expect.EQ(t, monthlyMean.Shape(), []int{24})

	_, err = dataset.Resample(ts, "W", gridscale.Mean)
	expect.True(t, errors.Is(errors.Invalid, err))

	smooth, err := dataset.Rolling(ts, "time", 3, false, 0, gridscale.Mean)
	assert.NoError(t, err)
	s, err := compute(t, sess, smooth).Series()
	assert.NoError(t, err)
	expect.EQ(t, len(s.Times), 24)
	expectValues(t, s.Y[:4], []float64{math.NaN(), math.NaN(), 1, 2})
	expectValues(t, s.Y[12:14], []float64{(10 + 11 + 10) / 3.0, (11 + 10 + 11) / 3.0})

	_, err = dataset.Rolling(ts, "time", 0, false, 0, gridscale.Mean)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestResultPlotting(t *testing.T) {
	sess := exec.Start(exec.Local)
	ds, cleanup := open(t)
	defer cleanup()
	v := sst(t, ds)

	first, err := v.ISel(map[string]gridscale.Range{"time": gridscale.At(-1)})
	assert.NoError(t, err)
	r := compute(t, sess, first.Squeeze())
	f, err := r.Field()
	assert.NoError(t, err)
	expect.EQ(t, f.Ys, []float64{-45, 45})
	expect.EQ(t, f.Xs, []float64{0, 120, 240})
	c, rows := f.Dims()
	expect.EQ(t, c, 3)
	expect.EQ(t, rows, 2)
	expect.EQ(t, f.Z(1, 0), 21.0)

	_, err = r.Series()
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = compute(t, sess, v).Field()
	expect.True(t, errors.Is(errors.Invalid, err))
}
