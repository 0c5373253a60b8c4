package zarr

import (
	"fmt"
	"io"

	"github.com/qri-io/dataset/compression"
)

// CompressionMeta defines compression settings zarr-go understands. A nil
// *CompressionMeta (JSON null) stores chunks uncompressed.
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
	Level   int    `json:"level,omitempty"`
}

// zarr codec ids mapped to the compression package's format names
var codecFormats = map[string]string{
	"zstd": "zst",
	"gzip": "gzip",
}

// Zstd is the compressor newly written arrays use by default.
func Zstd() *CompressionMeta { return &CompressionMeta{ID: "zstd", Clevel: 1} }

// Gzip returns gzip settings as numcodecs writes them.
func Gzip() *CompressionMeta { return &CompressionMeta{ID: "gzip", Level: 1} }

// ParseCompressor returns the settings for a codec id. The empty id and
// "none" mean no compression.
func ParseCompressor(id string) (*CompressionMeta, error) {
	switch id {
	case "", "none":
		return nil, nil
	case "zstd":
		return Zstd(), nil
	case "gzip":
		return Gzip(), nil
	}
	return nil, fmt.Errorf("unsupported compressor %q", id)
}

func (m *CompressionMeta) format() (string, error) {
	f, ok := codecFormats[m.ID]
	if !ok {
		return "", fmt.Errorf("unsupported compressor %q", m.ID)
	}
	return f, nil
}

func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m == nil {
		return r, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Decompressor(f, r)
}

// Compressor wraps w; callers must Close the returned writer to flush it.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	if m == nil {
		return nopWriteCloser{w}, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Compressor(f, w)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
