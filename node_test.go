package gridscale

import (
	"sort"
	"testing"

	"github.com/grailbio/bigslice/slicetest"
	"github.com/grailbio/testutil/expect"
)

// scanNode evaluates n's slice and returns its blocks by chunk key.
func scanNode(t *testing.T, n Node) map[string]Block {
	t.Helper()
	var (
		keys   []string
		blocks []Block
	)
	slicetest.RunAndScan(t, n.slice(), &keys, &blocks)
	m := make(map[string]Block, len(keys))
	for i, k := range keys {
		if _, ok := m[k]; ok {
			t.Errorf("duplicate chunk %s", k)
		}
		m[k] = blocks[i]
	}
	return m
}

func expectChunks(t *testing.T, n Node) map[string]Block {
	t.Helper()
	g := n.Grid()
	m := scanNode(t, n)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := g.Keys()
	sort.Strings(want)
	expect.EQ(t, keys, want)
	for k, b := range m {
		expect.EQ(t, Key(b.Coords), k)
		expect.EQ(t, b.Shape, g.ChunkShape(b.Coords))
		expect.EQ(t, b.Origin, g.Origin(b.Coords))
		expect.EQ(t, len(b.Data), product(b.Shape))
	}
	return m
}

func TestNodeChunks(t *testing.T) {
	x := Random([]int{7, 5}, []int{3, 2}, 4)
	m := expectChunks(t, x.node)
	for _, b := range m {
		for _, v := range b.Data {
			if v < 0 || v >= 1 {
				t.Fatalf("chunk %v: value %v out of [0, 1)", b.Coords, v)
			}
		}
	}
	expectChunks(t, Full([]int{4, 4}, []int{3, 3}, 2).node)
	expectChunks(t, x.Index(Span(1, 6), Span(1, End)).node)
	expectChunks(t, x.Mean(0).node)
	expectChunks(t, x.Add(x).node)
	expectChunks(t, x.Rolling(Sum, 0, 2, false, 1).node)
	expectChunks(t, x.Rechunk(1, 3).node)
	expectChunks(t, x.Index(Span(1, 1)).node)
}

func TestRandomDeterministic(t *testing.T) {
	a := scanNode(t, Random([]int{6}, []int{2}, 9).node)
	b := scanNode(t, Random([]int{6}, []int{2}, 9).node)
	c := scanNode(t, Random([]int{6}, []int{2}, 10).node)
	expect.EQ(t, a["1"].Data, b["1"].Data)
	expect.False(t, a["1"].Data[0] == c["1"].Data[0])
	expect.False(t, a["0"].Data[0] == a["1"].Data[0])
}
