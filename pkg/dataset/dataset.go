// Package dataset defines the per-shard container of HyperLogLog sketches:
// one sketch over every client seen in the shard and one sketch per domain.
//
// On disk a shard is a CBOR map {"clients": bstr, "domains": {tstr: bstr}}
// whose byte strings are hll codec blobs.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/persist"
)

// ErrMalformedDataset is returned when a shard container cannot be decoded.
var ErrMalformedDataset = errors.New("dataset: malformed shard")

var codec = persist.MustCBORCodec()

// wireShard is the CBOR container layout.
type wireShard struct {
	Clients []byte            `cbor:"clients"`
	Domains map[string][]byte `cbor:"domains"`
}

// ShardDataset holds the sketches produced from one shard of observations.
// Every domain sketch shares the precision of Clients.
//
// ShardDataset is not safe for concurrent mutation.
type ShardDataset struct {
	Clients *hll.Sketch
	Domains map[string]*hll.Sketch
}

// New creates an empty dataset whose sketches use the given precision.
func New(precision uint8) (*ShardDataset, error) {
	clients, err := hll.New(precision)
	if err != nil {
		return nil, err
	}

	return &ShardDataset{
		Clients: clients,
		Domains: make(map[string]*hll.Sketch),
	}, nil
}

// Precision returns the precision shared by all sketches in the dataset.
func (d *ShardDataset) Precision() uint8 {
	return d.Clients.Precision()
}

// Observe records that clientKey queried domain. The key is hashed once and
// the hash feeds both the client sketch and the domain sketch.
func (d *ShardDataset) Observe(clientKey []byte, domain string) {
	h := hll.Hash(clientKey)

	d.Clients.AddHash(h)
	d.SketchFor(domain).AddHash(h)
}

// SketchFor returns the sketch for domain, creating an empty one on first use.
func (d *ShardDataset) SketchFor(domain string) *hll.Sketch {
	sk, ok := d.Domains[domain]
	if !ok {
		// Precision was validated when Clients was created.
		sk, _ = hll.New(d.Precision())
		d.Domains[domain] = sk
	}

	return sk
}

// DomainNames returns the domain keys in ascending order.
func (d *ShardDataset) DomainNames() []string {
	return slices.Sorted(maps.Keys(d.Domains))
}

// Retain drops every domain not listed in keep. The client sketch is
// unchanged, so magnitudes of the kept domains stay comparable.
func (d *ShardDataset) Retain(keep []string) {
	wanted := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		wanted[name] = struct{}{}
	}

	maps.DeleteFunc(d.Domains, func(name string, _ *hll.Sketch) bool {
		_, ok := wanted[name]

		return !ok
	})
}

// Validate checks that the dataset is well formed: a client sketch is present
// and every domain sketch shares its precision.
func (d *ShardDataset) Validate() error {
	if d.Clients == nil {
		return fmt.Errorf("%w: missing client sketch", ErrMalformedDataset)
	}

	precision := d.Clients.Precision()

	for _, name := range d.DomainNames() {
		sk := d.Domains[name]
		if sk == nil {
			return fmt.Errorf("%w: domain %q: missing sketch", ErrMalformedDataset, name)
		}

		if sk.Precision() != precision {
			return fmt.Errorf("%w: domain %q: %w", ErrMalformedDataset, name, hll.ErrPrecisionMismatch)
		}
	}

	return nil
}

// Merge folds other into d. Precision is checked before anything changes.
func (d *ShardDataset) Merge(other *ShardDataset) error {
	err := other.Validate()
	if err != nil {
		return err
	}

	if other.Precision() != d.Precision() {
		return hll.ErrPrecisionMismatch
	}

	err = d.Clients.Merge(other.Clients)
	if err != nil {
		return err
	}

	for name, sk := range other.Domains {
		err = d.SketchFor(name).Merge(sk)
		if err != nil {
			return fmt.Errorf("domain %q: %w", name, err)
		}
	}

	return nil
}

// MarshalBinary encodes the dataset as a CBOR shard container.
func (d *ShardDataset) MarshalBinary() ([]byte, error) {
	w, err := d.toWire()
	if err != nil {
		return nil, err
	}

	return codec.Marshal(w)
}

// Encode writes the dataset as a CBOR shard container to w.
func (d *ShardDataset) Encode(w io.Writer) error {
	wire, err := d.toWire()
	if err != nil {
		return err
	}

	return codec.Encode(w, wire)
}

func (d *ShardDataset) toWire() (*wireShard, error) {
	err := d.Validate()
	if err != nil {
		return nil, err
	}

	clients, err := d.Clients.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode clients: %w", err)
	}

	domains := make(map[string][]byte, len(d.Domains))

	for name, sk := range d.Domains {
		blob, marshalErr := sk.MarshalBinary()
		if marshalErr != nil {
			return nil, fmt.Errorf("encode domain %q: %w", name, marshalErr)
		}

		domains[name] = blob
	}

	return &wireShard{Clients: clients, Domains: domains}, nil
}

// Decode parses a CBOR shard container. Duplicate map keys, undecodable
// sketches, and domain sketches whose precision differs from the client
// sketch are rejected with ErrMalformedDataset; a precision conflict also
// matches hll.ErrPrecisionMismatch and a bad sketch hll.ErrMalformedSketch.
func Decode(data []byte) (*ShardDataset, error) {
	var w wireShard

	err := codec.Unmarshal(data, &w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDataset, err)
	}

	if w.Clients == nil {
		return nil, fmt.Errorf("%w: missing clients sketch", ErrMalformedDataset)
	}

	clients, err := hll.Decode(w.Clients)
	if err != nil {
		return nil, fmt.Errorf("%w: clients: %w", ErrMalformedDataset, err)
	}

	ds := &ShardDataset{
		Clients: clients,
		Domains: make(map[string]*hll.Sketch, len(w.Domains)),
	}

	for name, blob := range w.Domains {
		sk, decodeErr := hll.Decode(blob)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: domain %q: %w", ErrMalformedDataset, name, decodeErr)
		}

		if sk.Precision() != clients.Precision() {
			return nil, fmt.Errorf("%w: domain %q: %w", ErrMalformedDataset, name, hll.ErrPrecisionMismatch)
		}

		ds.Domains[name] = sk
	}

	return ds, nil
}

// Summary describes a dataset for display.
type Summary struct {
	Precision      uint8
	Clients        float64
	Domains        int
	SparseDomains  int
	DenseDomains   int
	LargestDomain  string
	LargestClients float64
}

// Summarize computes a display summary of the dataset.
func (d *ShardDataset) Summarize() Summary {
	s := Summary{
		Precision: d.Precision(),
		Clients:   d.Clients.Estimate(),
		Domains:   len(d.Domains),
	}

	for _, name := range d.DomainNames() {
		sk := d.Domains[name]

		if sk.Representation() == hll.Sparse {
			s.SparseDomains++
		} else {
			s.DenseDomains++
		}

		if est := sk.Estimate(); est > s.LargestClients {
			s.LargestDomain = name
			s.LargestClients = est
		}
	}

	return s
}
