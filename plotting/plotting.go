// Package plotting renders computed time series and 2-D fields with
// gonum/plot. The output format follows the file extension (png, svg, pdf,
// eps, jpg, tif).
package plotting

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Default figure size.
var (
	Width  = 8 * vg.Inch
	Height = 4 * vg.Inch
)

// Series is a one-dimensional result. When Times is set, it is used as the
// x axis instead of X.
type Series struct {
	Name  string
	Times []time.Time
	X     []float64
	Y     []float64
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Y) }

// XYs returns the series' valid points; NaN values and zero times are
// skipped. Times become Unix seconds.
func (s Series) XYs() plotter.XYs {
	xys := make(plotter.XYs, 0, len(s.Y))
	for i, y := range s.Y {
		var x float64
		switch {
		case s.Times != nil:
			if s.Times[i].IsZero() {
				continue
			}
			x = float64(s.Times[i].Unix())
		case s.X != nil:
			x = s.X[i]
		default:
			x = float64(i)
		}
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: x, Y: y})
	}
	return xys
}

// Lines plots one or more series on common axes and writes the figure to
// path.
func Lines(ctx context.Context, path, title, ylabel string, series ...Series) error {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())
	timeAxis := false
	for i, s := range series {
		xys := s.XYs()
		if len(xys) == 0 {
			log.Printf("plotting: series %q has no valid points", s.Name)
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("plotting: series %q", s.Name), err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(0)
		p.Add(line)
		if s.Name != "" {
			p.Legend.Add(s.Name, line)
		}
		timeAxis = timeAxis || s.Times != nil
	}
	if timeAxis {
		p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	}
	p.Legend.Top = true
	return save(ctx, p, path)
}

// Field is a 2-D result on a rectilinear grid: Values[r*len(Xs)+c] is the
// value at (Xs[c], Ys[r]). It implements plotter.GridXYZ.
type Field struct {
	Name   string
	Xs, Ys []float64
	Values []float64
}

func (f Field) Dims() (c, r int)   { return len(f.Xs), len(f.Ys) }
func (f Field) Z(c, r int) float64 { return f.Values[r*len(f.Xs)+c] }
func (f Field) X(c int) float64    { return f.Xs[c] }
func (f Field) Y(r int) float64    { return f.Ys[r] }

// Range returns the minimum and maximum of the field's valid values.
func (f Field) Range() (min, max float64) {
	valid := make([]float64, 0, len(f.Values))
	for _, z := range f.Values {
		if !math.IsNaN(z) && !math.IsInf(z, 0) {
			valid = append(valid, z)
		}
	}
	if len(valid) == 0 {
		return math.NaN(), math.NaN()
	}
	return floats.Min(valid), floats.Max(valid)
}

// ascending returns f with rows ordered by increasing Y.
func (f Field) ascending() Field {
	if len(f.Ys) < 2 || f.Ys[0] < f.Ys[len(f.Ys)-1] {
		return f
	}
	nx, ny := len(f.Xs), len(f.Ys)
	out := Field{Name: f.Name, Xs: f.Xs, Ys: make([]float64, ny), Values: make([]float64, len(f.Values))}
	for r := 0; r < ny; r++ {
		out.Ys[r] = f.Ys[ny-1-r]
		copy(out.Values[r*nx:(r+1)*nx], f.Values[(ny-1-r)*nx:(ny-r)*nx])
	}
	return out
}

// HeatMap draws f with a heat palette and writes the figure to path. NaN
// cells, such as land in a sea surface temperature field, are left blank.
func HeatMap(ctx context.Context, path, title string, f Field) error {
	if len(f.Values) != len(f.Xs)*len(f.Ys) || len(f.Values) == 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("plotting: field %q has %d values for a %dx%d grid", f.Name, len(f.Values), len(f.Xs), len(f.Ys)))
	}
	min, max := f.Range()
	if math.IsNaN(min) {
		return errors.E(errors.Invalid, fmt.Sprintf("plotting: field %q has no valid values", f.Name))
	}
	if min == max {
		max = min + 1
	}
	p := plot.New()
	p.Title.Text = title
	h := plotter.NewHeatMap(f.ascending(), palette.Heat(16, 1))
	h.Min, h.Max = min, max
	h.NaN = color.Transparent
	p.Add(h)
	return save(ctx, p, path)
}

// save writes p to path through grailbio's file package, so that paths may
// name any registered file system.
func save(ctx context.Context, p *plot.Plot, path string) (err error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		return errors.E(errors.Invalid, fmt.Sprintf("plotting: %s: no file extension", path))
	}
	wt, err := p.WriterTo(Width, Height, format)
	if err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("plotting: %s", path), err)
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(fmt.Sprintf("plotting: create %s", path), err)
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = errors.E(fmt.Sprintf("plotting: close %s", path), cerr)
		}
	}()
	if _, err = wt.WriteTo(f.Writer(ctx)); err != nil {
		return errors.E(fmt.Sprintf("plotting: write %s", path), err)
	}
	log.Printf("plotting: wrote %s", path)
	return nil
}
