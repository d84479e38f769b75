package dataset_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
)

const (
	precision     = uint8(hll.DefaultPrecision)
	otherPrec     = uint8(10)
	clientsPerTLD = 200
)

func newDataset(t *testing.T, p uint8) *dataset.ShardDataset {
	t.Helper()

	ds, err := dataset.New(p)
	require.NoError(t, err)

	return ds
}

func client(i int) []byte {
	return fmt.Appendf(nil, "10.0.%d.%d", i/256, i%256)
}

func populated(t *testing.T) *dataset.ShardDataset {
	t.Helper()

	ds := newDataset(t, precision)

	for i := range clientsPerTLD {
		ds.Observe(client(i), "example.com")

		if i%10 == 0 {
			ds.Observe(client(i), "example.org")
		}
	}

	ds.Observe(client(0), "rare.net")

	return ds
}

func TestNew_InvalidPrecision(t *testing.T) {
	t.Parallel()

	ds, err := dataset.New(hll.MaxPrecision + 1)
	require.ErrorIs(t, err, hll.ErrPrecisionOutOfRange)
	assert.Nil(t, ds)
}

func TestObserve(t *testing.T) {
	t.Parallel()

	ds := populated(t)

	assert.Equal(t, []string{"example.com", "example.org", "rare.net"}, ds.DomainNames())
	assert.InDelta(t, clientsPerTLD, ds.Clients.Estimate(), clientsPerTLD*0.05)
	assert.InDelta(t, clientsPerTLD, ds.Domains["example.com"].Estimate(), clientsPerTLD*0.05)
	assert.InDelta(t, clientsPerTLD/10, ds.Domains["example.org"].Estimate(), 2)
	assert.Equal(t, uint64(1), ds.Domains["rare.net"].Count())
}

func TestObserve_SharesHashWithClients(t *testing.T) {
	t.Parallel()

	ds := newDataset(t, precision)
	ds.Observe([]byte("192.0.2.1"), "a.example")

	assert.True(t, ds.Clients.Equal(ds.Domains["a.example"]))
}

func TestSketchFor_GetOrCreate(t *testing.T) {
	t.Parallel()

	ds := newDataset(t, precision)

	first := ds.SketchFor("new.example")
	second := ds.SketchFor("new.example")

	assert.Same(t, first, second)
	assert.True(t, first.IsEmpty())
	assert.Equal(t, precision, first.Precision())
}

func TestRetain(t *testing.T) {
	t.Parallel()

	ds := populated(t)
	clientsBefore := ds.Clients.Registers()

	ds.Retain([]string{"example.com", "missing.example"})

	assert.Equal(t, []string{"example.com"}, ds.DomainNames())
	assert.Equal(t, clientsBefore, ds.Clients.Registers())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ds := populated(t)

	data, err := ds.MarshalBinary()
	require.NoError(t, err)

	decoded, err := dataset.Decode(data)
	require.NoError(t, err)

	assert.True(t, ds.Clients.Equal(decoded.Clients))
	require.Equal(t, ds.DomainNames(), decoded.DomainNames())

	for _, name := range ds.DomainNames() {
		assert.True(t, ds.Domains[name].Equal(decoded.Domains[name]), name)
	}
}

func TestEncode_MatchesMarshalBinary(t *testing.T) {
	t.Parallel()

	ds := populated(t)

	data, err := ds.MarshalBinary()
	require.NoError(t, err)

	var buf bytes.Buffer

	require.NoError(t, ds.Encode(&buf))
	assert.Equal(t, data, buf.Bytes())
}

func TestRoundTrip_Empty(t *testing.T) {
	t.Parallel()

	data, err := newDataset(t, precision).MarshalBinary()
	require.NoError(t, err)

	decoded, err := dataset.Decode(data)
	require.NoError(t, err)

	assert.True(t, decoded.Clients.IsEmpty())
	assert.Empty(t, decoded.Domains)
}

func mustBlob(t *testing.T, sk *hll.Sketch) []byte {
	t.Helper()

	blob, err := sk.MarshalBinary()
	require.NoError(t, err)

	return blob
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	good := mustBlob(t, populated(t).Clients)

	small, err := hll.New(otherPrec)
	require.NoError(t, err)

	mismatched := mustBlob(t, small)

	encode := func(v any) []byte {
		data, marshalErr := cbor.Marshal(v)
		require.NoError(t, marshalErr)

		return data
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "not_cbor", data: []byte{0xff}, wantErr: dataset.ErrMalformedDataset},
		{name: "not_a_map", data: encode(42), wantErr: dataset.ErrMalformedDataset},
		{name: "missing_clients", data: encode(map[string]any{
			"domains": map[string][]byte{},
		}), wantErr: dataset.ErrMalformedDataset},
		{name: "truncated_clients", data: encode(map[string]any{
			"clients": good[:len(good)-1],
		}), wantErr: hll.ErrMalformedSketch},
		{name: "bad_domain_sketch", data: encode(map[string]any{
			"clients": good,
			"domains": map[string][]byte{"a.example": {1, 2, 3}},
		}), wantErr: hll.ErrMalformedSketch},
		{name: "domain_precision_mismatch", data: encode(map[string]any{
			"clients": good,
			"domains": map[string][]byte{"a.example": mismatched},
		}), wantErr: hll.ErrPrecisionMismatch},
		{name: "trailing_bytes", data: append(encode(map[string]any{"clients": good}), 0x00),
			wantErr: dataset.ErrMalformedDataset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ds, decodeErr := dataset.Decode(tt.data)
			require.ErrorIs(t, decodeErr, tt.wantErr)
			require.ErrorIs(t, decodeErr, dataset.ErrMalformedDataset)
			assert.Nil(t, ds)
		})
	}
}

func TestDecode_DuplicateDomainKey(t *testing.T) {
	t.Parallel()

	good := mustBlob(t, populated(t).Clients)

	// Build {"clients": good, "domains": {"a": good, "a": good}} by hand,
	// since encoders refuse to produce duplicate keys.
	var buf bytes.Buffer

	enc := cbor.NewEncoder(&buf)

	buf.WriteByte(0xa2) // map(2)
	require.NoError(t, enc.Encode("clients"))
	require.NoError(t, enc.Encode(good))
	require.NoError(t, enc.Encode("domains"))
	buf.WriteByte(0xa2) // map(2)
	require.NoError(t, enc.Encode("a"))
	require.NoError(t, enc.Encode(good))
	require.NoError(t, enc.Encode("a"))
	require.NoError(t, enc.Encode(good))

	ds, err := dataset.Decode(buf.Bytes())
	require.ErrorIs(t, err, dataset.ErrMalformedDataset)
	assert.Nil(t, ds)

	var dupErr *cbor.DupMapKeyError

	assert.ErrorAs(t, err, &dupErr)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ds := populated(t)
	require.NoError(t, ds.Validate())

	ds.Domains["odd.example"] = newDataset(t, otherPrec).Clients

	err := ds.Validate()
	require.ErrorIs(t, err, dataset.ErrMalformedDataset)
	require.ErrorIs(t, err, hll.ErrPrecisionMismatch)

	_, err = ds.MarshalBinary()
	require.ErrorIs(t, err, hll.ErrPrecisionMismatch)

	missing := &dataset.ShardDataset{}
	require.ErrorIs(t, missing.Validate(), dataset.ErrMalformedDataset)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	left := newDataset(t, precision)
	right := newDataset(t, precision)
	direct := newDataset(t, precision)

	for i := range clientsPerTLD {
		target := left
		if i%2 == 1 {
			target = right
		}

		target.Observe(client(i), "example.com")
		direct.Observe(client(i), "example.com")
	}

	right.Observe(client(1), "only-right.example")
	direct.Observe(client(1), "only-right.example")

	require.NoError(t, left.Merge(right))

	assert.True(t, direct.Clients.Equal(left.Clients))
	require.Equal(t, direct.DomainNames(), left.DomainNames())

	for _, name := range direct.DomainNames() {
		assert.True(t, direct.Domains[name].Equal(left.Domains[name]), name)
	}
}

func TestMerge_PrecisionMismatchLeavesReceiver(t *testing.T) {
	t.Parallel()

	ds := populated(t)
	before := ds.Clients.Registers()

	other := newDataset(t, otherPrec)
	other.Observe(client(999), "new.example")

	require.ErrorIs(t, ds.Merge(other), hll.ErrPrecisionMismatch)
	assert.Equal(t, before, ds.Clients.Registers())
	assert.NotContains(t, ds.Domains, "new.example")
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	ds := populated(t)

	s := ds.Summarize()

	assert.Equal(t, precision, s.Precision)
	assert.Equal(t, 3, s.Domains)
	assert.Equal(t, 3, s.SparseDomains+s.DenseDomains)
	assert.Equal(t, "example.com", s.LargestDomain)
	assert.InDelta(t, float64(clientsPerTLD), s.Clients, clientsPerTLD*0.05)
}
