// Package shardio reads and writes shard and dataset files through an
// afero filesystem. It is the only place that knows about file suffixes:
// a ".lz4" or ".zst" suffix selects stream compression, and directories
// expand to the shard files they contain.
package shardio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
)

// ShardExtension is the extension of an uncompressed shard file.
const ShardExtension = ".cbor"

// ErrShardTooLarge is returned when a file decompresses beyond the read limit.
var ErrShardTooLarge = errors.New("shardio: shard exceeds size limit")

// ErrNoShards is returned when the given paths contain no shard files.
var ErrNoShards = errors.New("shardio: no shard files found")

// Create opens path for writing, creating parent directories. The writer
// compresses according to the path suffix; closing it flushes the
// compressor and closes the file.
func Create(afs afero.Fs, path string) (io.WriteCloser, error) {
	err := afs.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("create dir for %s: %w", path, err)
	}

	file, err := afs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	w, err := compressWriter(file, CompressionFor(path))
	if err != nil {
		file.Close()

		return nil, err
	}

	return w, nil
}

// Open opens path for reading, decompressing according to the path suffix.
func Open(afs afero.Fs, path string) (io.ReadCloser, error) {
	file, err := afs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r, err := decompressReader(file, CompressionFor(path))
	if err != nil {
		file.Close()

		return nil, err
	}

	return r, nil
}

// ReadAll reads and decompresses the whole file. A limit greater than zero
// caps the decompressed size; exceeding it returns ErrShardTooLarge.
func ReadAll(afs afero.Fs, path string, limit int64) ([]byte, error) {
	r, err := Open(afs, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var src io.Reader = r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s is larger than %s", ErrShardTooLarge, path, humanize.IBytes(uint64(limit)))
	}

	return data, nil
}

// WriteFile writes data to path, compressing according to the suffix.
func WriteFile(afs afero.Fs, path string, data []byte) error {
	w, err := Create(afs, path)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, bytes.NewReader(data))
	if err != nil {
		w.Close()

		return fmt.Errorf("write %s: %w", path, err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	return nil
}

// WriteDataset encodes ds and writes it to path.
func WriteDataset(afs afero.Fs, path string, ds *dataset.ShardDataset) error {
	data, err := ds.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	return WriteFile(afs, path, data)
}

// ReadDataset reads and decodes the shard at path. It also returns the
// decompressed size of the container.
func ReadDataset(afs afero.Fs, path string, limit int64) (*dataset.ShardDataset, int, error) {
	data, err := ReadAll(afs, path, limit)
	if err != nil {
		return nil, 0, err
	}

	ds, err := dataset.Decode(data)
	if err != nil {
		return nil, len(data), err
	}

	return ds, len(data), nil
}

// IsShardFile reports whether name looks like a shard file, optionally
// compressed.
func IsShardFile(name string) bool {
	lower := strings.ToLower(name)
	lower = strings.TrimSuffix(lower, CompressionFor(lower).Suffix())

	return strings.HasSuffix(lower, ShardExtension)
}

// Expand resolves the given paths into a sorted, de-duplicated list of shard
// files. Files are taken as given; directories are walked recursively for
// files that satisfy IsShardFile.
func Expand(afs afero.Fs, paths []string) ([]string, error) {
	var out []string

	for _, path := range paths {
		info, err := afs.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			out = append(out, path)

			continue
		}

		err = afero.Walk(afs, path, func(walked string, fi fs.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}

			if !fi.IsDir() && IsShardFile(fi.Name()) {
				out = append(out, walked)
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoShards
	}

	slices.Sort(out)

	return slices.Compact(out), nil
}
