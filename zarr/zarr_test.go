package zarr

import (
	"errors"
	"io/ioutil"
	"math"
	"os"
	"testing"
)

var metaOne = &ArrayMeta{
	ZarrFormat: Version,
	Shape:      []int{10, 7},
	Chunks:     []int{4, 3},
	Dtype:      Float64,
	Compressor: Zstd(),
	FillValue:  FillValueNaN,
	Order:      "C",
}

func TestZarr(t *testing.T) {
	s := NewMemoryStore()
	if _, err := Open(s, "foo/bar", ModeReadWrite); !errors.Is(err, ErrNotfound) {
		t.Fatalf("expected ErrNotfound opening missing array, got %v", err)
	}

	z, err := Create(s, "/foo//bar/", metaOne, ModeWriteFail)
	if err != nil {
		t.Fatal(err)
	}
	if z.Path() != "foo/bar" {
		t.Errorf("path mismatch. want foo/bar got %s", z.Path())
	}
	if _, err := Create(s, "foo/bar", metaOne, ModeWriteFail); err == nil {
		t.Error("expected error creating existing array in w- mode")
	}

	grid := z.Grid()
	if grid[0] != 3 || grid[1] != 3 {
		t.Fatalf("grid mismatch. want [3 3] got %v", grid)
	}

	// write every chunk but the last, each filled with its linear chunk index
	n := 0
	EachCoords(grid, func(coords []int) bool {
		if coords[0] == 2 && coords[1] == 2 {
			return false
		}
		vals := make([]float64, 12)
		for i := range vals {
			vals[i] = float64(n)
		}
		if err := z.WriteChunk(coords, vals); err != nil {
			t.Fatal(err)
		}
		n++
		return true
	})

	z2, err := Open(s, "foo/bar", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	all, err := z2.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Data) != 70 {
		t.Fatalf("expected 70 elements, got %d", len(all.Data))
	}
	// element (5, 4) lives in chunk (1, 1), the 5th written
	if got := all.Data[5*7+4]; got != 4 {
		t.Errorf("element (5,4): want 4 got %v", got)
	}
	// the unwritten edge chunk reads as fill
	if got := all.Data[9*7+6]; !math.IsNaN(got) {
		t.Errorf("element (9,6): want NaN got %v", got)
	}
	if err := z2.WriteChunk([]int{0, 0}, make([]float64, 12)); err == nil {
		t.Error("expected error writing read-only array")
	}
	if _, err := z2.ReadChunk([]int{3, 0}); err == nil {
		t.Error("expected error reading out of range chunk")
	}
}

func TestCreateModes(t *testing.T) {
	s := NewMemoryStore()
	z, err := Create(s, "a", metaOne, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := z.WriteChunk([]int{0, 0}, make([]float64, 12)); err != nil {
		t.Fatal(err)
	}

	// append mode opens the existing array
	z, err = Create(s, "a", metaOne, ModeReadWriteCreate)
	if err != nil {
		t.Fatal(err)
	}
	if chunk, err := z.ReadChunk([]int{0, 0}); err != nil || chunk[0] != 0 {
		t.Fatalf("expected zeroed chunk, got %v, %v", chunk, err)
	}

	// overwrite mode drops existing chunks
	z, err = Create(s, "a", metaOne, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := z.ReadChunk([]int{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(chunk[0]) {
		t.Errorf("expected fill after overwrite, got %v", chunk[0])
	}

	if _, err := Create(s, "a", metaOne, ModeRead); err == nil {
		t.Error("expected error creating in read mode")
	}
}

func TestWriteRegion(t *testing.T) {
	meta := NewArrayMeta([]int{5}, []int{4}, Dtype{BOLittleEndian, BTInteger, 4, ""})
	meta.FillValue = float64(-1)
	meta.Compressor = nil
	z, err := Create(NewMemoryStore(), "ints", meta, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := z.WriteRegion([]int{1}, []int{1}, []float64{42}); err != nil {
		t.Fatal(err)
	}
	chunk, err := z.ReadChunk([]int{1})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{42, -1, -1, -1}
	for i := range want {
		if chunk[i] != want[i] {
			t.Errorf("element %d: want %v got %v", i, want[i], chunk[i])
		}
	}
}

func TestLocalStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "zarr")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	meta := NewArrayMeta([]int{4, 4}, []int{2, 2}, Float64)
	meta.DimensionSeparator = "/"
	z, err := Create(s, "nested", meta, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := z.WriteChunk([]int{1, 0}, []float64{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir + "/nested/1/0"); err != nil {
		t.Errorf("expected nested chunk file: %v", err)
	}
	keys, err := s.List("nested/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "nested/.zarray" || keys[1] != "nested/1/0" {
		t.Errorf("unexpected keys %v", keys)
	}
	if _, err := s.Get("nested/0/0"); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected ErrNotfound, got %v", err)
	}
	all, err := z.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if all.Data[2*4+1] != 2 {
		t.Errorf("element (2,1): want 2 got %v", all.Data[2*4+1])
	}
}

func TestChunkKeys(t *testing.T) {
	if got := ChunkKey([]int{1, 4}, "."); got != "1.4" {
		t.Errorf("want 1.4 got %s", got)
	}
	if got := ChunkKey(nil, "."); got != "0" {
		t.Errorf("want 0 got %s", got)
	}
	coords, err := ParseChunkKey("3/0/12", "/", 3)
	if err != nil {
		t.Fatal(err)
	}
	if coords[0] != 3 || coords[1] != 0 || coords[2] != 12 {
		t.Errorf("unexpected coords %v", coords)
	}
	if _, err := ParseChunkKey("1.x", ".", 2); err == nil {
		t.Error("expected error for bad key")
	}
	if _, err := ParseChunkKey("1.2", ".", 3); err == nil {
		t.Error("expected error for wrong rank")
	}
}

func TestCompressors(t *testing.T) {
	for _, id := range []string{"", "zstd", "gzip"} {
		c, err := ParseCompressor(id)
		if err != nil {
			t.Fatal(err)
		}
		meta := NewArrayMeta([]int{6}, []int{3}, Dtype{BOBigEndian, BTFloatingPoint, 4, ""})
		meta.Compressor = c
		z, err := Create(NewMemoryStore(), "c", meta, ModeWrite)
		if err != nil {
			t.Fatal(err)
		}
		if err := z.WriteChunk([]int{1}, []float64{1.5, -2, 3}); err != nil {
			t.Fatalf("%q: %v", id, err)
		}
		chunk, err := z.ReadChunk([]int{1})
		if err != nil {
			t.Fatalf("%q: %v", id, err)
		}
		if chunk[0] != 1.5 || chunk[1] != -2 || chunk[2] != 3 {
			t.Errorf("%q: round trip got %v", id, chunk)
		}
	}
	if _, err := ParseCompressor("blosc"); err == nil {
		t.Error("expected error for unsupported compressor")
	}
}

func TestAttrs(t *testing.T) {
	s := NewMemoryStore()
	attrs, err := ReadAttrs(s, "sst")
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 0 {
		t.Errorf("expected no attributes, got %v", attrs)
	}
	if err := WriteAttrs(s, "sst", Attributes{"units": "degC", "scale": 2.0}); err != nil {
		t.Fatal(err)
	}
	attrs, err = ReadAttrs(s, "/sst/")
	if err != nil {
		t.Fatal(err)
	}
	if attrs["units"] != "degC" || attrs["scale"] != 2.0 {
		t.Errorf("unexpected attributes %v", attrs)
	}
}

func TestConsolidate(t *testing.T) {
	s := NewMemoryStore()
	if _, err := ReadConsolidated(s); !errors.Is(err, ErrNotfound) {
		t.Fatalf("expected not found, got %v", err)
	}
	z, err := Create(s, "sst", metaOne, ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	vals := make([]float64, 12)
	for i := range vals {
		vals[i] = float64(i)
	}
	if err := z.WriteChunk([]int{1, 2}, vals); err != nil {
		t.Fatal(err)
	}
	if err := WriteAttrs(s, "sst", Attributes{"units": "degC"}); err != nil {
		t.Fatal(err)
	}
	if err := Consolidate(s); err != nil {
		t.Fatal(err)
	}

	cm, err := ReadConsolidated(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(cm.Metadata) != 3 {
		t.Errorf("expected group, array and attributes, got %v", cm.Metadata)
	}
	if _, ok := cm.Metadata[".zgroup"].(Group); !ok {
		t.Errorf("expected root group, got %T", cm.Metadata[".zgroup"])
	}
	if attrs, ok := cm.Metadata["sst/.zattrs"].(Attributes); !ok || attrs["units"] != "degC" {
		t.Errorf("unexpected attributes %#v", cm.Metadata["sst/.zattrs"])
	}

	c, err := OpenConsolidated(s, cm, "/sst", ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadChunk([]int{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := range vals {
		if got[i] != vals[i] {
			t.Fatalf("element %d: got %v, want %v", i, got[i], vals[i])
		}
	}
	if _, err := OpenConsolidated(s, cm, "salinity", ModeRead); !errors.Is(err, ErrNotfound) {
		t.Errorf("expected not found, got %v", err)
	}
}
