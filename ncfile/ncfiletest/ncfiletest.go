// Package ncfiletest writes small NetCDF files for tests.
package ncfiletest

import (
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Var is a variable to be written. Values is a (possibly nested) slice of
// a numeric type whose nesting depth matches len(Dims).
type Var struct {
	Name   string
	Dims   []string
	Values interface{}
	Attrs  map[string]interface{}
}

// Write creates a classic-format NetCDF file at path holding vars and the
// global attributes attrs.
func Write(path string, attrs map[string]interface{}, vars ...Var) error {
	w, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	for _, v := range vars {
		am, err := orderedMap(v.Attrs)
		if err != nil {
			return err
		}
		err = w.AddVar(v.Name, api.Variable{
			Values:     v.Values,
			Dimensions: v.Dims,
			Attributes: am,
		})
		if err != nil {
			return err
		}
	}
	if len(attrs) > 0 {
		am, err := orderedMap(attrs)
		if err != nil {
			return err
		}
		if err := w.AddGlobalAttrs(am); err != nil {
			return err
		}
	}
	return w.Close()
}

func orderedMap(m map[string]interface{}) (*util.OrderedMap, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if m == nil {
		m = map[string]interface{}{}
	}
	return util.NewOrderedMap(keys, m)
}
