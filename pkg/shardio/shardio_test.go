package shardio_test

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

const payloadSize = 64 * 1024

func payload() []byte {
	return bytes.Repeat([]byte("example.com 192.0.2.1\n"), payloadSize/22+1)
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    shardio.Compression
		wantErr bool
	}{
		{in: "", want: shardio.None},
		{in: "none", want: shardio.None},
		{in: " LZ4 ", want: shardio.LZ4},
		{in: "zstd", want: shardio.Zstd},
		{in: "zst", want: shardio.Zstd},
		{in: "gzip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := shardio.ParseCompression(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, shardio.ErrUnknownCompression)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompressionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, shardio.None, shardio.CompressionFor("a/b.cbor"))
	assert.Equal(t, shardio.LZ4, shardio.CompressionFor("a/b.cbor.lz4"))
	assert.Equal(t, shardio.Zstd, shardio.CompressionFor("a/b.cbor.ZST"))
}

func TestWithSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "out.cbor", shardio.WithSuffix("out.cbor", shardio.None))
	assert.Equal(t, "out.cbor.lz4", shardio.WithSuffix("out.cbor", shardio.LZ4))
	assert.Equal(t, "out.cbor.zst", shardio.WithSuffix("out.cbor", shardio.Zstd))
	assert.Equal(t, "out.cbor.lz4", shardio.WithSuffix("out.cbor.lz4", shardio.Zstd))
}

func TestWriteReadFile(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"plain.cbor", "fast.cbor.lz4", "small.cbor.zst"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			afs := afero.NewMemMapFs()
			path := "shards/day1/" + name
			data := payload()

			require.NoError(t, shardio.WriteFile(afs, path, data))

			got, err := shardio.ReadAll(afs, path, 0)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			raw, err := afero.ReadFile(afs, path)
			require.NoError(t, err)

			if shardio.CompressionFor(path) == shardio.None {
				assert.Equal(t, data, raw)
			} else {
				assert.Less(t, len(raw), len(data), "repetitive payload should compress")
			}
		})
	}
}

func TestReadAll_Limit(t *testing.T) {
	t.Parallel()

	afs := afero.NewMemMapFs()
	data := payload()

	require.NoError(t, shardio.WriteFile(afs, "big.cbor.zst", data))

	_, err := shardio.ReadAll(afs, "big.cbor.zst", int64(len(data)-1))
	require.ErrorIs(t, err, shardio.ErrShardTooLarge)

	got, err := shardio.ReadAll(afs, "big.cbor.zst", int64(len(data)))
	require.NoError(t, err)
	assert.Len(t, got, len(data))
}

func TestOpen_Missing(t *testing.T) {
	t.Parallel()

	_, err := shardio.Open(afero.NewMemMapFs(), "missing.cbor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.cbor")
}

func TestReadAll_CorruptCompressedStream(t *testing.T) {
	t.Parallel()

	afs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(afs, "bad.cbor.lz4", []byte("definitely not lz4"), 0o600))

	_, err := shardio.ReadAll(afs, "bad.cbor.lz4", 0)
	assert.Error(t, err)
}

func TestDatasetRoundTrip(t *testing.T) {
	t.Parallel()

	ds, err := dataset.New(hll.DefaultPrecision)
	require.NoError(t, err)

	ds.Observe([]byte("192.0.2.1"), "example.com")
	ds.Observe([]byte("192.0.2.2"), "example.com")
	ds.Observe([]byte("192.0.2.2"), "example.org")

	afs := afero.NewMemMapFs()

	for _, path := range []string{"a.cbor", "a.cbor.lz4", "a.cbor.zst"} {
		require.NoError(t, shardio.WriteDataset(afs, path, ds))

		got, size, readErr := shardio.ReadDataset(afs, path, 0)
		require.NoError(t, readErr, path)
		assert.Positive(t, size)
		assert.True(t, ds.Clients.Equal(got.Clients), path)
		assert.Equal(t, ds.DomainNames(), got.DomainNames(), path)
	}
}

func TestReadDataset_Malformed(t *testing.T) {
	t.Parallel()

	afs := afero.NewMemMapFs()
	require.NoError(t, shardio.WriteFile(afs, "bad.cbor", []byte{0xa0}))

	ds, _, err := shardio.ReadDataset(afs, "bad.cbor", 0)
	require.ErrorIs(t, err, dataset.ErrMalformedDataset)
	assert.Nil(t, ds)
}

func TestIsShardFile(t *testing.T) {
	t.Parallel()

	assert.True(t, shardio.IsShardFile("x.cbor"))
	assert.True(t, shardio.IsShardFile("x.CBOR.lz4"))
	assert.True(t, shardio.IsShardFile("x.cbor.zst"))
	assert.False(t, shardio.IsShardFile("x.json"))
	assert.False(t, shardio.IsShardFile("x.lz4"))
	assert.False(t, shardio.IsShardFile("cbor"))
}

func TestExpand(t *testing.T) {
	t.Parallel()

	afs := afero.NewMemMapFs()

	for _, path := range []string{
		"in/b.cbor",
		"in/a.cbor.lz4",
		"in/nested/c.cbor.zst",
		"in/notes.txt",
		"extra.bin",
	} {
		require.NoError(t, afero.WriteFile(afs, path, []byte{0}, 0o600))
	}

	got, err := shardio.Expand(afs, []string{"in", "extra.bin", "in/b.cbor"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"extra.bin",
		"in/a.cbor.lz4",
		"in/b.cbor",
		"in/nested/c.cbor.zst",
	}, got)
}

func TestExpand_Errors(t *testing.T) {
	t.Parallel()

	afs := afero.NewMemMapFs()
	require.NoError(t, afs.MkdirAll("empty", 0o755))

	_, err := shardio.Expand(afs, []string{"empty"})
	require.ErrorIs(t, err, shardio.ErrNoShards)

	_, err = shardio.Expand(afs, []string{"nope"})
	require.Error(t, err)
}
