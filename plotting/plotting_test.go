package plotting

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestSeriesXYs(t *testing.T) {
	nan := math.NaN()
	s := Series{Y: []float64{1, nan, 3}}
	xys := s.XYs()
	expect.EQ(t, len(xys), 2)
	expect.EQ(t, xys[1].X, 2.0)

	t0 := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	s = Series{Times: []time.Time{t0, {}, t0.AddDate(0, 1, 0)}, Y: []float64{1, 2, 3}}
	xys = s.XYs()
	expect.EQ(t, len(xys), 2)
	expect.EQ(t, xys[0].X, float64(t0.Unix()))
	expect.EQ(t, xys[1].Y, 3.0)
}

func TestFieldAscending(t *testing.T) {
	f := Field{
		Xs:     []float64{0, 1},
		Ys:     []float64{10, 0, -10},
		Values: []float64{1, 2, 3, 4, math.NaN(), 6},
	}
	a := f.ascending()
	expect.EQ(t, a.Ys, []float64{-10, 0, 10})
	expect.EQ(t, a.Z(1, 0), 6.0)
	expect.EQ(t, a.Z(0, 2), 1.0)
	c, r := a.Dims()
	expect.EQ(t, c, 2)
	expect.EQ(t, r, 3)
	min, max := f.Range()
	expect.EQ(t, min, 1.0)
	expect.EQ(t, max, 6.0)
}

func TestWrite(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	t0 := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{Name: "global mean", Times: make([]time.Time, 12), Y: make([]float64, 12)}
	for i := range s.Y {
		s.Times[i] = t0.AddDate(0, i, 0)
		s.Y[i] = float64(i % 4)
	}
	path := filepath.Join(dir, "series.png")
	assert.NoError(t, Lines(ctx, path, "sst", "degC", s))
	info, err := os.Stat(path)
	assert.NoError(t, err)
	expect.True(t, info.Size() > 0)

	f := Field{Xs: []float64{0, 1}, Ys: []float64{0, 1}, Values: []float64{1, 2, math.NaN(), 4}}
	path = filepath.Join(dir, "field.svg")
	assert.NoError(t, HeatMap(ctx, path, "sst", f))
	_, err = os.Stat(path)
	assert.NoError(t, err)

	err = HeatMap(ctx, filepath.Join(dir, "bad.png"), "", Field{Xs: []float64{0}, Ys: []float64{0}, Values: []float64{math.NaN()}})
	expect.True(t, errors.Is(errors.Invalid, err))
	err = HeatMap(ctx, filepath.Join(dir, "bad.png"), "", Field{Xs: []float64{0}, Values: []float64{1}})
	expect.True(t, errors.Is(errors.Invalid, err))
	err = Lines(ctx, filepath.Join(dir, "noext"), "", "", s)
	expect.True(t, errors.Is(errors.Invalid, err))
}
