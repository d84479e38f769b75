package hll_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"
)

const (
	// headerLen mirrors the codec header: version, precision, tag, uint32 count.
	headerLen = 7

	// sparseItems stays far below the 25% occupancy threshold at p=12.
	sparseItems = 50
)

func encode(t *testing.T, sk *hll.Sketch) []byte {
	t.Helper()

	data, err := sk.MarshalBinary()
	require.NoError(t, err)

	return data
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		precision uint8
		items     int
		wantRepr  hll.Representation
	}{
		{name: "empty", precision: defaultPrecision, items: 0, wantRepr: hll.Sparse},
		{name: "single", precision: defaultPrecision, items: 1, wantRepr: hll.Sparse},
		{name: "long_tail", precision: defaultPrecision, items: sparseItems, wantRepr: hll.Sparse},
		{name: "dense", precision: defaultPrecision, items: cardN10K, wantRepr: hll.Dense},
		{name: "min_precision_dense", precision: minPrecision, items: cardN100, wantRepr: hll.Dense},
		{name: "max_precision_sparse", precision: maxPrecision, items: cardN1K, wantRepr: hll.Sparse},
		{name: "max_precision_dense", precision: maxPrecision, items: cardN100K, wantRepr: hll.Dense},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sk := newSketch(t, tt.precision)
			fillRange(sk, 0, tt.items)

			assert.Equal(t, tt.wantRepr, sk.Representation())

			data := encode(t, sk)
			assert.Equal(t, uint8(tt.wantRepr), data[2])

			decoded, err := hll.Decode(data)
			require.NoError(t, err)

			assert.True(t, sk.Equal(decoded), "decoded registers differ from original")
			assert.Equal(t, sk.Registers(), decoded.Registers())
			assert.InDelta(t, sk.Estimate(), decoded.Estimate(), 0)
		})
	}
}

func TestCodec_SparseIsSmaller(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)
	fillRange(sk, 0, sparseItems)

	data := encode(t, sk)

	assert.Less(t, len(data), sk.RegisterCount())
	assert.Equal(t, headerLen+4+sk.NonZero()*3, len(data))
}

func TestCodec_DenseLength(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)
	fillRange(sk, 0, cardN10K)

	assert.Len(t, encode(t, sk), headerLen+sk.RegisterCount())
}

func TestCodec_Header(t *testing.T) {
	t.Parallel()

	data := encode(t, newSketch(t, defaultPrecision))

	assert.Equal(t, uint8(1), data[0])
	assert.Equal(t, defaultPrecision, data[1])
	assert.Equal(t, uint32(registersP12), binary.BigEndian.Uint32(data[3:7]))
}

func TestCodec_UnmarshalBinary(t *testing.T) {
	t.Parallel()

	src := newSketch(t, defaultPrecision)
	fillRange(src, 0, cardN1K)

	dst := newSketch(t, minPrecision)
	require.NoError(t, dst.UnmarshalBinary(encode(t, src)))

	assert.True(t, src.Equal(dst))
	assert.Equal(t, defaultPrecision, dst.Precision())
}

func TestCodec_UnmarshalBinaryErrorKeepsReceiver(t *testing.T) {
	t.Parallel()

	dst := newSketch(t, defaultPrecision)
	fillRange(dst, 0, cardN100)

	before := dst.Registers()

	err := dst.UnmarshalBinary([]byte{1, 2})
	require.ErrorIs(t, err, hll.ErrMalformedSketch)
	assert.Equal(t, before, dst.Registers())
}

func TestDecode_TruncatedByOneByte(t *testing.T) {
	t.Parallel()

	for _, items := range []int{1, sparseItems, cardN10K} {
		sk := newSketch(t, defaultPrecision)
		fillRange(sk, 0, items)

		data := encode(t, sk)

		decoded, err := hll.Decode(data[:len(data)-1])
		require.ErrorIs(t, err, hll.ErrMalformedSketch, "items=%d", items)
		assert.Nil(t, decoded)
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	sparse := newSketch(t, defaultPrecision)
	fillRange(sparse, 0, sparseItems)

	sparseData := encode(t, sparse)

	dense := newSketch(t, defaultPrecision)
	fillRange(dense, 0, cardN10K)

	denseData := encode(t, dense)

	mutate := func(src []byte, fn func([]byte) []byte) []byte {
		buf := make([]byte, len(src))
		copy(buf, src)

		return fn(buf)
	}

	firstPair := headerLen + 4

	tests := []struct {
		name string
		data []byte
	}{
		{name: "nil", data: nil},
		{name: "short_header", data: sparseData[:headerLen-1]},
		{name: "bad_version", data: mutate(sparseData, func(b []byte) []byte { b[0] = 9; return b })},
		{name: "precision_too_low", data: mutate(sparseData, func(b []byte) []byte { b[1] = 3; return b })},
		{name: "precision_too_high", data: mutate(sparseData, func(b []byte) []byte { b[1] = 17; return b })},
		{name: "unknown_tag", data: mutate(sparseData, func(b []byte) []byte { b[2] = 7; return b })},
		{name: "count_mismatch", data: mutate(sparseData, func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[3:], registersP12-1)

			return b
		})},
		{name: "precision_inconsistent_with_count", data: mutate(denseData, func(b []byte) []byte { b[1] = 11; return b })},
		{name: "sparse_missing_pair_count", data: sparseData[:headerLen+2]},
		{name: "sparse_trailing_byte", data: append(mutate(sparseData, func(b []byte) []byte { return b }), 0)},
		{name: "sparse_too_many_pairs", data: mutate(sparseData, func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[headerLen:], registersP12+1)

			return b
		})},
		{name: "sparse_index_out_of_range", data: mutate(sparseData, func(b []byte) []byte {
			binary.BigEndian.PutUint16(b[firstPair:], registersP12)

			return b
		})},
		{name: "sparse_not_ascending", data: mutate(sparseData, func(b []byte) []byte {
			copy(b[firstPair+3:firstPair+5], b[firstPair:firstPair+2])

			return b
		})},
		{name: "sparse_zero_value", data: mutate(sparseData, func(b []byte) []byte { b[firstPair+2] = 0; return b })},
		{name: "sparse_value_too_large", data: mutate(sparseData, func(b []byte) []byte { b[firstPair+2] = 54; return b })},
		{name: "dense_value_too_large", data: mutate(denseData, func(b []byte) []byte { b[headerLen+5] = 54; return b })},
		{name: "dense_trailing_byte", data: append(mutate(denseData, func(b []byte) []byte { return b }), 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decoded, err := hll.Decode(tt.data)
			require.ErrorIs(t, err, hll.ErrMalformedSketch)
			assert.Nil(t, decoded)
		})
	}
}

func TestDecode_MaxRankAccepted(t *testing.T) {
	t.Parallel()

	sk := newSketch(t, defaultPrecision)
	sk.AddHash(0)

	decoded, err := hll.Decode(encode(t, sk))
	require.NoError(t, err)

	assert.Equal(t, hll.MaxRank(defaultPrecision), decoded.Registers()[0])
}

func TestRepresentation_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sparse", hll.Sparse.String())
	assert.Equal(t, "dense", hll.Dense.String())
	assert.Equal(t, "unknown(9)", hll.Representation(9).String())
}
