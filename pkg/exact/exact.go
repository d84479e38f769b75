// Package exact implements ground-truth client accounting with explicit
// sets. It mirrors the sketch pipeline so estimates can be checked against
// true counts on small inputs; memory grows with the number of distinct
// clients, so it is not meant for production volumes.
package exact

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/magnitude"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/persist"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

type set map[string]struct{}

// Dataset is the set of clients overall and per domain.
type Dataset struct {
	clients set
	domains map[string]set
}

// wireDataset is the file layout; client lists are sorted.
type wireDataset struct {
	Clients []string            `json:"clients" cbor:"clients"`
	Domains map[string][]string `json:"domains" cbor:"domains"`
}

// New creates an empty dataset.
func New() *Dataset {
	return &Dataset{
		clients: make(set),
		domains: make(map[string]set),
	}
}

// Observe records that clientKey queried domain.
func (d *Dataset) Observe(clientKey []byte, domain string) {
	key := string(clientKey)

	d.clients[key] = struct{}{}
	d.setFor(domain)[key] = struct{}{}
}

func (d *Dataset) setFor(domain string) set {
	s, ok := d.domains[domain]
	if !ok {
		s = make(set)
		d.domains[domain] = s
	}

	return s
}

// Clients returns the number of distinct clients.
func (d *Dataset) Clients() int {
	return len(d.clients)
}

// DomainClients returns the number of distinct clients of domain.
func (d *Dataset) DomainClients(domain string) int {
	return len(d.domains[domain])
}

// DomainNames returns the domains in ascending order.
func (d *Dataset) DomainNames() []string {
	return slices.Sorted(maps.Keys(d.domains))
}

// Merge adds every client of other into d.
func (d *Dataset) Merge(other *Dataset) {
	maps.Copy(d.clients, other.clients)

	for name, s := range other.domains {
		maps.Copy(d.setFor(name), s)
	}
}

// Report computes magnitudes from the exact counts, applying the same
// omission and top-N rules as the sketch aggregator.
func (d *Dataset) Report(opts magnitude.ReportOptions) *magnitude.Report {
	candidates := make([]magnitude.Candidate, 0, len(d.domains))
	for name, s := range d.domains {
		candidates = append(candidates, magnitude.Candidate{Domain: name, Estimate: float64(len(s))})
	}

	return magnitude.BuildReport(float64(len(d.clients)), candidates, opts)
}

func (d *Dataset) toWire() *wireDataset {
	w := &wireDataset{
		Clients: slices.Sorted(maps.Keys(d.clients)),
		Domains: make(map[string][]string, len(d.domains)),
	}

	for name, s := range d.domains {
		w.Domains[name] = slices.Sorted(maps.Keys(s))
	}

	return w
}

func fromWire(w *wireDataset) *Dataset {
	d := New()

	for _, c := range w.Clients {
		d.clients[c] = struct{}{}
	}

	for name, clients := range w.Domains {
		s := d.setFor(name)
		for _, c := range clients {
			s[c] = struct{}{}
			// Files written by other tools may omit domain clients from the
			// global list.
			d.clients[c] = struct{}{}
		}
	}

	return d
}

// Save writes d to path. The codec follows the extension (".json" or
// ".cbor"), optionally followed by a compression suffix.
func Save(afs afero.Fs, path string, d *Dataset) error {
	codec, err := persist.CodecFor(path)
	if err != nil {
		return err
	}

	w, err := shardio.Create(afs, path)
	if err != nil {
		return err
	}

	err = codec.Encode(w, d.toWire())
	if err != nil {
		w.Close()

		return fmt.Errorf("encode %s: %w", path, err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	return nil
}

// Load reads a dataset written by Save.
func Load(afs afero.Fs, path string) (*Dataset, error) {
	codec, err := persist.CodecFor(path)
	if err != nil {
		return nil, err
	}

	r, err := shardio.Open(afs, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var w wireDataset

	err = codec.Decode(r, &w)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return fromWire(&w), nil
}
