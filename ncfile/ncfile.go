// Package ncfile reads variables from NetCDF files as float64 arrays,
// applying the CF conventions that data producers use to pack values:
// missing-value markers, scale and offset, and time units.
package ncfile

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/grailbio/base/errors"
)

// File is an open NetCDF file.
type File struct {
	Path string
	g    api.Group
}

// Open opens the NetCDF (classic or HDF5-based) file at path.
func Open(path string) (*File, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		if _, serr := os.Stat(path); os.IsNotExist(serr) {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("ncfile: open %s", path), err)
		}
		return nil, errors.E(errors.Invalid, fmt.Sprintf("ncfile: open %s", path), err)
	}
	return &File{Path: path, g: g}, nil
}

// Close releases the file.
func (f *File) Close() {
	f.g.Close()
}

// Variables returns the names of the file's variables in sorted order.
func (f *File) Variables() []string {
	vars := f.g.ListVariables()
	sort.Strings(vars)
	return vars
}

// Attrs returns the file's global attributes.
func (f *File) Attrs() Attrs {
	return attrs(f.g.Attributes())
}

// VarInfo describes a variable without reading all of its data.
type VarInfo struct {
	Name  string
	Dims  []string
	Shape []int
	Type  string
	Attrs Attrs
}

// Info returns the dimensions, shape and attributes of variable name. Only
// the first record is read to learn the shape of the inner dimensions.
func (f *File) Info(name string) (*VarInfo, error) {
	vg, err := f.getter(name)
	if err != nil {
		return nil, err
	}
	info := &VarInfo{
		Name:  name,
		Dims:  vg.Dimensions(),
		Type:  vg.Type(),
		Attrs: attrs(vg.Attributes()),
	}
	if len(info.Dims) == 0 {
		return info, nil
	}
	n := vg.Len()
	info.Shape = []int{int(n)}
	if len(info.Dims) == 1 {
		return info, nil
	}
	if n == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("ncfile: %s: variable %s has no records", f.Path, name))
	}
	rec, err := vg.GetSlice(0, 1)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("ncfile: %s: read %s", f.Path, name), err)
	}
	_, shape, err := Flatten(rec)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("ncfile: %s: variable %s", f.Path, name), err)
	}
	info.Shape = append(info.Shape, shape[1:]...)
	return info, nil
}

// Data holds decoded variable values in row-major order.
type Data struct {
	Shape  []int
	Values []float64
}

// Read reads and decodes all values of variable name.
func (f *File) Read(name string) (*Data, error) {
	vg, err := f.getter(name)
	if err != nil {
		return nil, err
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, errors.E(fmt.Sprintf("ncfile: %s: read %s", f.Path, name), err)
	}
	return f.decode(name, vg, raw)
}

// ReadRecords reads and decodes records [begin, end) along the first
// dimension of variable name.
func (f *File) ReadRecords(name string, begin, end int) (*Data, error) {
	vg, err := f.getter(name)
	if err != nil {
		return nil, err
	}
	raw, err := vg.GetSlice(int64(begin), int64(end))
	if err != nil {
		return nil, errors.E(fmt.Sprintf("ncfile: %s: read %s[%d:%d]", f.Path, name, begin, end), err)
	}
	return f.decode(name, vg, raw)
}

func (f *File) decode(name string, vg api.VarGetter, raw interface{}) (*Data, error) {
	vals, shape, err := Flatten(raw)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("ncfile: %s: variable %s", f.Path, name), err)
	}
	if len(vg.Dimensions()) == 0 {
		shape = nil
	}
	Decode(vals, attrs(vg.Attributes()))
	return &Data{Shape: shape, Values: vals}, nil
}

func (f *File) getter(name string) (api.VarGetter, error) {
	vg, err := f.g.GetVarGetter(name)
	if err != nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("ncfile: %s: variable %s", f.Path, name), err)
	}
	return vg, nil
}

// Decode applies CF packing attributes to vals in place: elements equal to
// _FillValue or missing_value become NaN, then scale_factor and add_offset
// are applied.
func Decode(vals []float64, a Attrs) {
	var missing []float64
	for _, key := range []string{"_FillValue", "missing_value"} {
		if v, ok := a.Float(key); ok {
			missing = append(missing, v)
		}
	}
	scale, hasScale := a.Float("scale_factor")
	offset, hasOffset := a.Float("add_offset")
	if len(missing) == 0 && !hasScale && !hasOffset {
		return
	}
	if !hasScale {
		scale = 1
	}
	for i, v := range vals {
		for _, m := range missing {
			if v == m || (isFillSentinel(m) && math.Abs(v-m) <= math.Abs(m)*1e-6) {
				v = math.NaN()
				break
			}
		}
		vals[i] = v*scale + offset
	}
}

// isFillSentinel reports whether m is one of the huge default fill values
// (such as 9.96921e+36) that lose precision in float32 storage.
func isFillSentinel(m float64) bool {
	return math.Abs(m) > 1e30
}

// Flatten converts a value returned by the NetCDF reader (a number, or a
// possibly nested slice of numbers) into row-major float64 values and the
// slice's shape.
func Flatten(v interface{}) ([]float64, []int, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil, fmt.Errorf("no value")
	}
	var shape []int
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	vals := make([]float64, 0, n)
	var walk func(rv reflect.Value, depth int) error
	walk = func(rv reflect.Value, depth int) error {
		if rv.Kind() == reflect.Slice {
			if depth >= len(shape) || rv.Len() != shape[depth] {
				return fmt.Errorf("ragged array")
			}
			for i := 0; i < rv.Len(); i++ {
				if err := walk(rv.Index(i), depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		x, ok := number(rv)
		if !ok {
			return fmt.Errorf("unsupported element type %s", rv.Type())
		}
		vals = append(vals, x)
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return vals, shape, nil
}

func number(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Interface:
		if rv.IsNil() {
			return 0, false
		}
		return number(rv.Elem())
	}
	return 0, false
}

// Attrs holds variable or global attributes.
type Attrs map[string]interface{}

func attrs(m api.AttributeMap) Attrs {
	a := Attrs{}
	if m == nil {
		return a
	}
	for _, k := range m.Keys() {
		if v, ok := m.Get(k); ok {
			a[k] = v
		}
	}
	return a
}

// String returns the attribute key as a string.
func (a Attrs) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Float returns the attribute key as a number. Array-valued attributes
// yield their first element.
func (a Attrs) Float(key string) (float64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return 0, false
		}
		rv = rv.Index(0)
	}
	return number(rv)
}
