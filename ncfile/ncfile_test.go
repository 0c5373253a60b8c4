package ncfile_test

import (
	"io/ioutil"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/qri-io/gridscale/ncfile"
	"github.com/qri-io/gridscale/ncfile/ncfiletest"
)

func writeSST(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sst.1981.nc")
	err := ncfiletest.Write(path, map[string]interface{}{"title": "test sst"},
		ncfiletest.Var{
			Name:   "time",
			Dims:   []string{"time"},
			Values: []float64{0, 31, 59},
			Attrs:  map[string]interface{}{"units": "days since 1981-01-01 00:00:00"},
		},
		ncfiletest.Var{
			Name:   "lat",
			Dims:   []string{"lat"},
			Values: []float32{-45, 45},
		},
		ncfiletest.Var{
			Name: "sst",
			Dims: []string{"time", "lat"},
			Values: [][]int16{
				{100, -999},
				{200, 300},
				{-999, 400},
			},
			Attrs: map[string]interface{}{
				"_FillValue":   int16(-999),
				"scale_factor": float32(0.5),
				"add_offset":   float32(10),
			},
		},
	)
	assert.NoError(t, err)
	return path
}

func TestRead(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	f, err := ncfile.Open(writeSST(t, dir))
	assert.NoError(t, err)
	defer f.Close()

	expect.EQ(t, f.Variables(), []string{"lat", "sst", "time"})
	title, ok := f.Attrs().String("title")
	expect.True(t, ok)
	expect.EQ(t, title, "test sst")

	info, err := f.Info("sst")
	assert.NoError(t, err)
	expect.EQ(t, info.Dims, []string{"time", "lat"})
	expect.EQ(t, info.Shape, []int{3, 2})

	d, err := f.Read("sst")
	assert.NoError(t, err)
	expect.EQ(t, d.Shape, []int{3, 2})
	expect.EQ(t, d.Values[0], 60.0)
	expect.True(t, math.IsNaN(d.Values[1]))
	expect.EQ(t, d.Values[3], 160.0)
	expect.True(t, math.IsNaN(d.Values[4]))

	recs, err := f.ReadRecords("sst", 1, 3)
	assert.NoError(t, err)
	expect.EQ(t, recs.Shape, []int{2, 2})
	expect.EQ(t, recs.Values[0], 110.0)
	expect.EQ(t, recs.Values[3], 210.0)

	_, err = f.Read("missing")
	expect.True(t, errors.Is(errors.NotExist, err))
}

func TestOpenErrors(t *testing.T) {
	_, err := ncfile.Open("/nonexistent/file.nc")
	expect.True(t, errors.Is(errors.NotExist, err))

	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "garbage.nc")
	assert.NoError(t, ioutil.WriteFile(path, []byte("not a netcdf file"), 0644))
	_, err = ncfile.Open(path)
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestFlatten(t *testing.T) {
	vals, shape, err := ncfile.Flatten([][][]float32{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}})
	assert.NoError(t, err)
	expect.EQ(t, shape, []int{2, 2, 2})
	expect.EQ(t, vals, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	vals, shape, err = ncfile.Flatten(int32(7))
	assert.NoError(t, err)
	expect.EQ(t, len(shape), 0)
	expect.EQ(t, vals, []float64{7})

	_, _, err = ncfile.Flatten([][]float64{{1, 2}, {3}})
	expect.NotNil(t, err)
	_, _, err = ncfile.Flatten([]string{"a"})
	expect.NotNil(t, err)
}

func TestDecode(t *testing.T) {
	vals := []float64{1, 9.969209968386869e+36, 3, -1}
	ncfile.Decode(vals, ncfile.Attrs{
		"_FillValue":    float32(9.96921e+36),
		"missing_value": []int16{-1},
		"scale_factor":  2.0,
	})
	expect.EQ(t, vals[0], 2.0)
	expect.True(t, math.IsNaN(vals[1]))
	expect.EQ(t, vals[2], 6.0)
	expect.True(t, math.IsNaN(vals[3]))

	vals = []float64{1, 2}
	ncfile.Decode(vals, nil)
	expect.EQ(t, vals, []float64{1, 2})
}

func TestDecodeTimes(t *testing.T) {
	for _, c := range []struct {
		units string
		val   float64
		want  time.Time
	}{
		{"days since 1800-01-01 00:00:00", 66443, time.Date(1981, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"days since 1800-1-1", 0.5, time.Date(1800, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"hours since 2000-01-01", 25, time.Date(2000, 1, 2, 1, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01T00:00:00Z", 60, time.Date(1970, 1, 1, 0, 1, 0, 0, time.UTC)},
		{"minutes since 1990-06-15 12:00:00.0 +00:00", 30, time.Date(1990, 6, 15, 12, 30, 0, 0, time.UTC)},
	} {
		times, err := ncfile.DecodeTimes([]float64{c.val, math.NaN()}, c.units)
		if err != nil {
			t.Errorf("%s: %v", c.units, err)
			continue
		}
		if !times[0].Equal(c.want) {
			t.Errorf("%s: got %v, want %v", c.units, times[0], c.want)
		}
		if !times[1].IsZero() {
			t.Errorf("%s: NaN decoded to %v", c.units, times[1])
		}
	}
	for _, bad := range []string{"days", "fortnights since 2000-01-01", "days since yesterday"} {
		_, err := ncfile.ParseTimeUnits(bad)
		expect.True(t, errors.Is(errors.Invalid, err))
	}
}
