// Package dataset presents a directory of NetCDF files as one labeled,
// lazily chunked dataset: variables are gridscale arrays addressed by
// dimension name, with coordinates (time, lat, lon) attached.
package dataset

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/qri-io/gridscale"
	"github.com/qri-io/gridscale/ncfile"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// coordTol is the tolerance within which coordinates of different files are
// considered equal.
const coordTol = 1e-6

// Coord is the coordinate of a dimension. Times is set for decoded time
// coordinates.
type Coord struct {
	Name   string
	Values []float64
	Times  []time.Time
	Attrs  ncfile.Attrs
}

// Len returns the number of coordinate values.
func (c Coord) Len() int { return len(c.Values) }

// slice returns the coordinate restricted to [start, stop).
func (c Coord) slice(start, stop int) Coord {
	out := Coord{Name: c.Name, Attrs: c.Attrs, Values: append([]float64(nil), c.Values[start:stop]...)}
	if c.Times != nil {
		out.Times = append([]time.Time(nil), c.Times[start:stop]...)
	}
	return out
}

// Variable is a named array with labeled dimensions.
type Variable struct {
	Name  string
	Dims  []string
	Attrs ncfile.Attrs
	Data  gridscale.Array
	// Coords holds the coordinates of those dimensions that have them.
	Coords map[string]Coord
}

// Dim returns the axis of dimension name.
func (v *Variable) Dim(name string) (int, error) {
	for i, d := range v.Dims {
		if d == name {
			return i, nil
		}
	}
	return -1, errors.E(errors.NotExist, fmt.Sprintf("dataset: variable %s has no dimension %q (dims %v)", v.Name, name, v.Dims))
}

// Shape returns the variable's shape.
func (v *Variable) Shape() []int { return v.Data.Shape() }

func (v *Variable) String() string {
	parts := make([]string, len(v.Dims))
	shape := v.Shape()
	for i, d := range v.Dims {
		parts[i] = fmt.Sprintf("%s: %d", d, shape[i])
	}
	return fmt.Sprintf("%s(%s)", v.Name, strings.Join(parts, ", "))
}

// Dataset is a set of variables sharing dimensions, read from one or more
// files concatenated along the record dimension.
type Dataset struct {
	Files  []string
	Dims   []string
	Sizes  map[string]int
	Coords map[string]Coord
	Vars   map[string]*Variable
	Attrs  ncfile.Attrs
}

// Var returns variable name.
func (ds *Dataset) Var(name string) (*Variable, error) {
	v, ok := ds.Vars[name]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("dataset: no variable %q", name))
	}
	return v, nil
}

// Names returns the names of the dataset's variables in sorted order.
func (ds *Dataset) Names() []string {
	names := make([]string, 0, len(ds.Vars))
	for name := range ds.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe writes a summary of ds to w: its dimensions, coordinates,
// variables with their chunking, and global attributes.
func (ds *Dataset) Describe(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "files:\t%d\n", len(ds.Files))
	fmt.Fprintln(tw, "dimensions:")
	for _, d := range ds.Dims {
		fmt.Fprintf(tw, "\t%s\t%d\n", d, ds.Sizes[d])
	}
	fmt.Fprintln(tw, "coordinates:")
	for _, d := range ds.Dims {
		c, ok := ds.Coords[d]
		if !ok || c.Len() == 0 {
			continue
		}
		if c.Times != nil {
			fmt.Fprintf(tw, "\t%s\t%s .. %s\n", d, c.Times[0].Format("2006-01-02"), c.Times[len(c.Times)-1].Format("2006-01-02"))
			continue
		}
		fmt.Fprintf(tw, "\t%s\t%g .. %g\n", d, c.Values[0], c.Values[len(c.Values)-1])
	}
	fmt.Fprintln(tw, "variables:")
	for _, name := range ds.Names() {
		v := ds.Vars[name]
		units, _ := v.Attrs.String("units")
		g := v.Data.Grid()
		fmt.Fprintf(tw, "\t%s\t%s\t%s\tchunks %v\n", v, units, g, g.NumChunks())
	}
	if len(ds.Attrs) > 0 {
		fmt.Fprintln(tw, "attributes:")
		keys := make([]string, 0, len(ds.Attrs))
		for k := range ds.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "\t%s\t%v\n", k, ds.Attrs[k])
		}
	}
	return tw.Flush()
}

// Options configures OpenMF.
type Options struct {
	// RecordDim is the dimension along which files are concatenated. The
	// default is "time".
	RecordDim string
	// Parallelism bounds the number of files whose headers are read
	// concurrently. The default is 8.
	Parallelism int
	// Chunks gives chunk lengths for dimensions other than the record
	// dimension, which always has one chunk per file. Dimensions not named
	// are held in a single chunk.
	Chunks map[string]int
}

func (o Options) withDefaults() Options {
	if o.RecordDim == "" {
		o.RecordDim = "time"
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 8
	}
	return o
}

// header is what OpenMF learns from one file.
type header struct {
	path   string
	names  []string
	vars   map[string]*ncfile.VarInfo
	nrec   int
	record []float64
	coords map[string][]float64
	attrs  ncfile.Attrs
}

// OpenMF opens the files matching pattern, in lexical order, as one dataset
// concatenated along the record dimension. Only headers and coordinates are
// read; variables with the record dimension are lazy arrays with one chunk
// per file. All files must hold the same variables with the same
// dimensions, and agree on every coordinate other than the record one.
func OpenMF(ctx context.Context, pattern string, opts Options) (*Dataset, error) {
	opts = opts.withDefaults()
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: bad pattern %q", pattern), err)
	}
	if len(files) == 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("dataset: no files match %q", pattern))
	}
	sort.Strings(files)
	start := time.Now()

	headers := make([]*header, len(files))
	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, opts.Parallelism)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-sem }()
			h, err := readHeader(path, opts.RecordDim)
			if err != nil {
				return err
			}
			headers[i] = h
			log.Debug.Printf("dataset: %s: %d records", path, h.nrec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, h := range headers[1:] {
		if err := checkConsistent(headers[0], h, opts.RecordDim); err != nil {
			return nil, err
		}
	}
	ds, err := assemble(files, headers, opts)
	if err != nil {
		return nil, err
	}
	log.Printf("dataset: opened %d files matching %s (%d %s records) in %s",
		len(files), pattern, ds.Sizes[opts.RecordDim], opts.RecordDim, time.Since(start))
	return ds, nil
}

func isCoordVar(info *ncfile.VarInfo) bool {
	return len(info.Dims) == 1 && info.Dims[0] == info.Name
}

func readHeader(path, recordDim string) (*header, error) {
	f, err := ncfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := &header{
		path:   path,
		names:  f.Variables(),
		vars:   make(map[string]*ncfile.VarInfo),
		coords: make(map[string][]float64),
		attrs:  f.Attrs(),
		nrec:   -1,
	}
	for _, name := range h.names {
		info, err := f.Info(name)
		if err != nil {
			return nil, err
		}
		h.vars[name] = info
		for i, d := range info.Dims {
			if d == recordDim && i != 0 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: variable %s has record dimension %s at axis %d", path, name, d, i))
			}
		}
		if len(info.Dims) > 0 && info.Dims[0] == recordDim {
			if h.nrec >= 0 && h.nrec != info.Shape[0] {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: variable %s has %d records, want %d", path, name, info.Shape[0], h.nrec))
			}
			h.nrec = info.Shape[0]
		}
		if !isCoordVar(info) {
			continue
		}
		d, err := f.Read(name)
		if err != nil {
			return nil, err
		}
		if name == recordDim {
			h.record = d.Values
		} else {
			h.coords[name] = d.Values
		}
	}
	if h.nrec <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %s: no records along %s", path, recordDim))
	}
	return h, nil
}

// checkConsistent checks that h describes the same variables as first.
func checkConsistent(first, h *header, recordDim string) error {
	invalid := func(format string, args ...interface{}) error {
		return errors.E(errors.Invalid, fmt.Sprintf("dataset: %s does not match %s: ", h.path, first.path)+fmt.Sprintf(format, args...))
	}
	if strings.Join(first.names, ",") != strings.Join(h.names, ",") {
		return invalid("variables %v, want %v", h.names, first.names)
	}
	for _, name := range first.names {
		a, b := first.vars[name], h.vars[name]
		if strings.Join(a.Dims, ",") != strings.Join(b.Dims, ",") {
			return invalid("variable %s has dimensions %v, want %v", name, b.Dims, a.Dims)
		}
		for i := range a.Shape {
			if i == 0 && a.Dims[0] == recordDim {
				continue
			}
			if a.Shape[i] != b.Shape[i] {
				return invalid("variable %s has shape %v, want %v", name, b.Shape, a.Shape)
			}
		}
	}
	for name, want := range first.coords {
		got := h.coords[name]
		if len(got) != len(want) || !floats.EqualApprox(got, want, coordTol) {
			return invalid("coordinate %s differs", name)
		}
	}
	return nil
}

func assemble(files []string, headers []*header, opts Options) (*Dataset, error) {
	first := headers[0]
	rec := opts.RecordDim
	ds := &Dataset{
		Files:  files,
		Sizes:  make(map[string]int),
		Coords: make(map[string]Coord),
		Vars:   make(map[string]*Variable),
		Attrs:  first.attrs,
	}
	lens := make([]int, len(headers))
	for i, h := range headers {
		lens[i] = h.nrec
		ds.Sizes[rec] += h.nrec
	}
	ds.Dims = []string{rec}
	for _, name := range first.names {
		info := first.vars[name]
		for i, d := range info.Dims {
			if _, ok := ds.Sizes[d]; !ok {
				ds.Sizes[d] = info.Shape[i]
				ds.Dims = append(ds.Dims, d)
			}
		}
	}

	if info, ok := first.vars[rec]; ok && isCoordVar(info) {
		c := Coord{Name: rec, Attrs: info.Attrs}
		for _, h := range headers {
			c.Values = append(c.Values, h.record...)
		}
		if units, ok := info.Attrs.String("units"); ok && strings.Contains(units, " since ") {
			times, err := ncfile.DecodeTimes(c.Values, units)
			if err != nil {
				return nil, errors.E(fmt.Sprintf("dataset: coordinate %s", rec), err)
			}
			c.Times = times
		}
		ds.Coords[rec] = c
	}
	for name, vals := range first.coords {
		ds.Coords[name] = Coord{Name: name, Values: vals, Attrs: first.vars[name].Attrs}
	}

	for _, name := range first.names {
		info := first.vars[name]
		if isCoordVar(info) || len(info.Dims) == 0 {
			continue
		}
		v := &Variable{
			Name:   name,
			Dims:   append([]string(nil), info.Dims...),
			Attrs:  info.Attrs,
			Coords: make(map[string]Coord),
		}
		for _, d := range v.Dims {
			if c, ok := ds.Coords[d]; ok {
				v.Coords[d] = c
			}
		}
		chunks := make([]int, len(info.Dims))
		for i, d := range info.Dims {
			chunks[i] = opts.Chunks[d]
		}
		if info.Dims[0] == rec {
			v.Data = gridscale.FromNetCDF(files, name, lens, info.Shape[1:], chunks)
		} else {
			d, err := readStatic(first.path, name)
			if err != nil {
				return nil, err
			}
			v.Data = gridscale.FromDense(d, chunks)
		}
		ds.Vars[name] = v
	}
	return ds, nil
}

// readStatic reads a variable without the record dimension in full.
func readStatic(path, name string) (*gridscale.Dense, error) {
	f, err := ncfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := f.Read(name)
	if err != nil {
		return nil, err
	}
	return &gridscale.Dense{Shape: d.Shape, Data: d.Values}, nil
}
