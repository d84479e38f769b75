package shardio

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is a stream compression applied to shard and dataset files.
type Compression string

const (
	// None stores files uncompressed.
	None Compression = "none"
	// LZ4 uses the lz4 frame format; files carry the ".lz4" suffix.
	LZ4 Compression = "lz4"
	// Zstd uses zstandard; files carry the ".zst" suffix.
	Zstd Compression = "zstd"
)

// File suffixes of the supported compressions.
const (
	lz4Suffix  = ".lz4"
	zstdSuffix = ".zst"
)

// ErrUnknownCompression is returned for an unsupported compression name.
var ErrUnknownCompression = errors.New("shardio: unknown compression")

// ParseCompression parses a compression name as used in configuration.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd", "zst":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// CompressionFor infers the compression of a file from its suffix.
func CompressionFor(path string) Compression {
	lower := strings.ToLower(path)

	switch {
	case strings.HasSuffix(lower, lz4Suffix):
		return LZ4
	case strings.HasSuffix(lower, zstdSuffix):
		return Zstd
	default:
		return None
	}
}

// Suffix returns the file suffix for the compression, empty for None.
func (c Compression) Suffix() string {
	switch c {
	case LZ4:
		return lz4Suffix
	case Zstd:
		return zstdSuffix
	default:
		return ""
	}
}

// WithSuffix appends the suffix of c to path unless path already names a
// compression.
func WithSuffix(path string, c Compression) string {
	if CompressionFor(path) != None {
		return path
	}

	return path + c.Suffix()
}

// multiCloser closes a compression layer and then the file beneath it.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error

	for _, c := range m {
		errs = append(errs, c.Close())
	}

	return errors.Join(errs...)
}

type writeCloser struct {
	io.Writer
	multiCloser
}

type readCloser struct {
	io.Reader
	multiCloser
}

func compressWriter(w io.WriteCloser, c Compression) (io.WriteCloser, error) {
	switch c {
	case LZ4:
		zw := lz4.NewWriter(w)

		return &writeCloser{Writer: zw, multiCloser: multiCloser{zw, w}}, nil
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}

		return &writeCloser{Writer: zw, multiCloser: multiCloser{zw, w}}, nil
	default:
		return w, nil
	}
}

func decompressReader(r io.ReadCloser, c Compression) (io.ReadCloser, error) {
	switch c {
	case LZ4:
		return &readCloser{Reader: lz4.NewReader(r), multiCloser: multiCloser{r}}, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}

		return &readCloser{Reader: zr, multiCloser: multiCloser{zr.IOReadCloser(), r}}, nil
	default:
		return r, nil
	}
}
