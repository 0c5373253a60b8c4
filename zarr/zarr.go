package zarr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"strings"
)

const (
	// Version is the version of the zarr storage specification this library
	// reads and writes.
	Version = 2
)

type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
}

// ArrayData is a fully read array in row-major order.
type ArrayData struct {
	Shape []int
	Data  []float64
}

// Create initializes an array at path according to mode: ModeWrite replaces
// any existing array, ModeWriteFail and ModeReadWriteCreate refuse to clobber
// (the latter opens the existing array instead).
func Create(store Store, path string, m *ArrayMeta, mode PersistenceMode) (*Array, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	p := NewPath(path)
	exists := true
	if f, err := store.Get(p.Join(string(MTArray)).String()); err == nil {
		f.Close()
	} else if errors.Is(err, ErrNotfound) {
		exists = false
	} else {
		return nil, err
	}

	switch mode {
	case ModeWriteFail:
		if exists {
			return nil, fmt.Errorf("array %q already exists", p)
		}
	case ModeReadWriteCreate:
		if exists {
			return Open(store, path, mode)
		}
	case ModeWrite:
		if exists {
			if err := clearArray(store, p); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("cannot create array %q in mode %q", p, mode)
	}

	d, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := store.Put(p.Join(string(MTArray)).String(), bytes.NewReader(d)); err != nil {
		return nil, err
	}
	return &Array{path: p, store: store, mode: mode, meta: m}, nil
}

func clearArray(store Store, p Path) error {
	prefix := ""
	if len(p) > 0 {
		prefix = p.String() + "/"
	}
	keys, err := store.List(prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := store.Delete(k); err != nil && !errors.Is(err, ErrNotfound) {
			return err
		}
	}
	return nil
}

// Open reads the metadata of an existing array.
func Open(store Store, path string, mode PersistenceMode) (*Array, error) {
	p := NewPath(path)
	a := &Array{
		path:  p,
		store: store,
		mode:  mode,
	}

	f, err := store.Get(p.Join(string(MTArray)).String())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a.meta = &ArrayMeta{}
	if err := json.NewDecoder(f).Decode(a.meta); err != nil {
		return nil, fmt.Errorf("reading %q metadata: %w", p, err)
	}
	if err := a.meta.Validate(); err != nil {
		return nil, fmt.Errorf("array %q: %w", p, err)
	}

	return a, nil
}

func (a *Array) Info() string {
	return fmt.Sprintf("<zarr-go.Array %s shape=%v chunks=%v dtype=%s>", a.path, a.meta.Shape, a.meta.Chunks, a.meta.Dtype)
}

func (a *Array) Meta() *ArrayMeta { return a.meta }

func (a *Array) Path() string {
	return a.path.String()
}

// Grid returns the number of chunks along each dimension.
func (a *Array) Grid() []int {
	return GridShape(a.meta.Shape, a.meta.Chunks)
}

// ReadChunk returns the elements of the chunk at coords in the full chunk
// shape, including any padding past the array edge. Chunks that were never
// written read as the fill value.
func (a *Array) ReadChunk(coords []int) ([]float64, error) {
	if err := a.checkCoords(coords); err != nil {
		return nil, err
	}
	out := make([]float64, product(a.meta.Chunks))
	f, err := a.store.Get(a.chunkPath(coords).String())
	if errors.Is(err, ErrNotfound) {
		fill, err := a.meta.Fill()
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i] = fill
		}
		return out, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := a.meta.Compressor.Decompressor(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", ChunkKey(coords, a.meta.Separator()), err)
	}
	if err := a.meta.Dtype.Decode(data, out); err != nil {
		return nil, fmt.Errorf("chunk %s: %w", ChunkKey(coords, a.meta.Separator()), err)
	}
	return out, nil
}

// WriteChunk stores vals, which must hold a full chunk, at coords.
func (a *Array) WriteChunk(coords []int, vals []float64) error {
	if a.mode == ModeRead {
		return fmt.Errorf("array %q is read only", a.path)
	}
	if err := a.checkCoords(coords); err != nil {
		return err
	}
	if n := product(a.meta.Chunks); len(vals) != n {
		return fmt.Errorf("chunk %s: got %d values, want %d", ChunkKey(coords, a.meta.Separator()), len(vals), n)
	}
	raw, err := a.meta.Dtype.Encode(vals)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w, err := a.meta.Compressor.Compressor(&buf)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return a.store.Put(a.chunkPath(coords).String(), &buf)
}

// WriteRegion writes a block of values of the given shape whose first
// element sits at chunk coords; shorter edge blocks are padded with the fill
// value.
func (a *Array) WriteRegion(coords, shape []int, vals []float64) error {
	full := make([]float64, product(a.meta.Chunks))
	fill, err := a.meta.Fill()
	if err != nil {
		return err
	}
	if fill != 0 {
		for i := range full {
			full[i] = fill
		}
	}
	zero := make([]int, len(shape))
	CopyRegion(full, a.meta.Chunks, zero, vals, shape, zero, shape)
	return a.WriteChunk(coords, full)
}

// ReadAll reads every chunk and assembles the array in row-major order.
func (a *Array) ReadAll() (*ArrayData, error) {
	out := &ArrayData{
		Shape: append([]int(nil), a.meta.Shape...),
		Data:  make([]float64, product(a.meta.Shape)),
	}
	var err error
	EachCoords(a.Grid(), func(coords []int) bool {
		var chunk []float64
		chunk, err = a.ReadChunk(coords)
		if err != nil {
			return false
		}
		p := project(coords, a.meta.Shape, a.meta.Chunks)
		CopyRegion(out.Data, out.Shape, p.OutSelection, chunk, a.meta.Chunks, p.ChunkSelection, p.Extent)
		return true
	})
	return out, err
}

// EachCoords calls fn with every coordinate tuple of a grid in row-major
// order until fn returns false. A zero-dimensional grid has one empty tuple.
func EachCoords(grid []int, fn func(coords []int) bool) {
	for _, n := range grid {
		if n == 0 {
			return
		}
	}
	coords := make([]int, len(grid))
	for {
		if !fn(append([]int(nil), coords...)) {
			return
		}
		i := len(grid) - 1
		for ; i >= 0; i-- {
			coords[i]++
			if coords[i] < grid[i] {
				break
			}
			coords[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func (a *Array) checkCoords(coords []int) error {
	grid := a.Grid()
	if len(coords) != len(grid) {
		return fmt.Errorf("chunk coordinates %v do not match array rank %d", coords, len(grid))
	}
	for i, c := range coords {
		if c < 0 || c >= grid[i] {
			return fmt.Errorf("chunk coordinates %v out of range for grid %v", coords, grid)
		}
	}
	return nil
}

func (a *Array) chunkPath(coords []int) Path {
	return a.path.Join(strings.Split(ChunkKey(coords, a.meta.Separator()), "/")...)
}

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	//‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// ‘a’ means read/write (create if doesn’t exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group ArrayMeta under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (Group) MetaType() MetaType { return MTGroup }

type Path []string

// NewPath normalizes a logical path: backward slashes become forward
// slashes, and leading, trailing and repeated slashes are dropped.
func NewPath(posix string) Path {
	posix = strings.ReplaceAll(posix, `\`, "/")
	var p Path
	for _, el := range strings.Split(posix, "/") {
		if el != "" {
			p = append(p, el)
		}
	}
	return p
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}

// WriteAttrs stores attrs as the user attributes of the array or group at
// path.
func WriteAttrs(store Store, path string, attrs Attributes) error {
	d, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return store.Put(NewPath(path).Join(string(MTAttributes)).String(), bytes.NewReader(d))
}

// ReadAttrs returns the user attributes of the array or group at path. A
// node without attributes has an empty set.
func ReadAttrs(store Store, path string) (Attributes, error) {
	attrs := Attributes{}
	f, err := store.Get(NewPath(path).Join(string(MTAttributes)).String())
	if errors.Is(err, ErrNotfound) {
		return attrs, nil
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("reading %q attributes: %w", path, err)
	}
	return attrs, nil
}

// Consolidate gathers the metadata of every array and group in store into
// a single .zmetadata key at the root, so that readers need one request to
// discover the whole hierarchy. The root is marked as a group if it is not
// one already.
func Consolidate(store Store) error {
	root := string(MTGroup)
	if f, err := store.Get(root); err == nil {
		f.Close()
	} else if errors.Is(err, ErrNotfound) {
		d, err := json.Marshal(Group{ZarrFormat: Version})
		if err != nil {
			return err
		}
		if err := store.Put(root, bytes.NewReader(d)); err != nil {
			return err
		}
	} else {
		return err
	}

	keys, err := store.List("")
	if err != nil {
		return err
	}
	cd := consolidatedMetaDecoder{ConsolidatedFormat: 1, Metadata: map[string]json.RawMessage{}}
	for _, key := range keys {
		if _, ok := KeyMetaType(key); !ok {
			continue
		}
		f, err := store.Get(key)
		if err != nil {
			return err
		}
		d, err := ioutil.ReadAll(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("reading %q: %w", key, err)
		}
		cd.Metadata[key] = d
	}
	d, err := json.Marshal(cd)
	if err != nil {
		return err
	}
	return store.Put(string(MTMetadata), bytes.NewReader(d))
}

// ReadConsolidated reads the consolidated metadata at the root of store.
// The error wraps ErrNotfound when the store has none.
func ReadConsolidated(store Store) (*ConsolidatedMetadata, error) {
	f, err := store.Get(string(MTMetadata))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cm := &ConsolidatedMetadata{}
	if err := json.NewDecoder(f).Decode(cm); err != nil {
		return nil, fmt.Errorf("reading consolidated metadata: %w", err)
	}
	return cm, nil
}

// OpenConsolidated opens the array at path using its entry in cm instead
// of reading the array's own .zarray key.
func OpenConsolidated(store Store, cm *ConsolidatedMetadata, path string, mode PersistenceMode) (*Array, error) {
	p := NewPath(path)
	m, ok := cm.Metadata[p.Join(string(MTArray)).String()].(*ArrayMeta)
	if !ok {
		return nil, fmt.Errorf("%w: array %q in consolidated metadata", ErrNotfound, p)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("array %q: %w", p, err)
	}
	return &Array{path: p, store: store, mode: mode, meta: m}, nil
}
