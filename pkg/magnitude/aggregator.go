// Package magnitude folds per-shard sketch datasets into global client
// totals and derives the DNS magnitude of every domain: a score between
// 0 and 10 on a logarithmic scale of the share of all clients that
// queried it.
package magnitude

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
)

// ErrNilDataset is wrapped in a ShardDecodeError when a shard has no dataset.
var ErrNilDataset = errors.New("magnitude: nil dataset")

// Aggregator accumulates shard datasets. All methods are safe for
// concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	precision uint8
	clients   *hll.Sketch
	domains   map[string]*hll.Sketch
	merged    map[string]struct{}
}

// NewAggregator creates an empty aggregator whose sketches use precision.
func NewAggregator(precision uint8) (*Aggregator, error) {
	clients, err := hll.New(precision)
	if err != nil {
		return nil, err
	}

	return &Aggregator{
		precision: precision,
		clients:   clients,
		domains:   make(map[string]*hll.Sketch),
		merged:    make(map[string]struct{}),
	}, nil
}

// Precision returns the precision every merged shard must have.
func (a *Aggregator) Precision() uint8 {
	return a.precision
}

// sketchFor returns the accumulator sketch for domain, creating an empty one
// on first use. Callers hold a.mu.
func (a *Aggregator) sketchFor(domain string) *hll.Sketch {
	sk, ok := a.domains[domain]
	if !ok {
		sk, _ = hll.New(a.precision)
		a.domains[domain] = sk
	}

	return sk
}

// check validates a shard against the accumulator without touching it.
func (a *Aggregator) check(ds *dataset.ShardDataset) error {
	if ds == nil {
		return ErrNilDataset
	}

	err := ds.Validate()
	if err != nil {
		return err
	}

	if ds.Precision() != a.precision {
		return fmt.Errorf("clients: precision %d, want %d: %w", ds.Precision(), a.precision, hll.ErrPrecisionMismatch)
	}

	return nil
}

// Add merges a shard into the accumulator. A shard that fails validation,
// including any precision mismatch, is rejected with a *ShardDecodeError and
// leaves the accumulator unchanged.
func (a *Aggregator) Add(shardID string, ds *dataset.ShardDataset) error {
	err := a.check(ds)
	if err != nil {
		return &ShardDecodeError{Shard: shardID, Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Precision was checked above, so merges cannot fail.
	_ = a.clients.Merge(ds.Clients)

	for name, sk := range ds.Domains {
		_ = a.sketchFor(name).Merge(sk)
	}

	a.merged[shardID] = struct{}{}

	return nil
}

// Merged reports whether a shard with this ID has been added.
func (a *Aggregator) Merged(shardID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.merged[shardID]

	return ok
}

// MergedShards returns the sorted IDs of every shard added so far.
func (a *Aggregator) MergedShards() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.merged))
	for id := range a.merged {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Restore merges a previously saved union of shards and marks every ID in
// shardIDs as merged, so later runs skip them. It fails like Add when ds does
// not match the aggregator.
func (a *Aggregator) Restore(ds *dataset.ShardDataset, shardIDs []string) error {
	err := a.check(ds)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_ = a.clients.Merge(ds.Clients)

	for name, sk := range ds.Domains {
		_ = a.sketchFor(name).Merge(sk)
	}

	for _, id := range shardIDs {
		a.merged[id] = struct{}{}
	}

	return nil
}

// Shards returns the number of distinct shard IDs added so far.
func (a *Aggregator) Shards() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.merged)
}

// Domains returns the number of distinct domains accumulated so far.
func (a *Aggregator) Domains() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.domains)
}

// Report computes magnitudes over everything added so far.
func (a *Aggregator) Report(opts ReportOptions) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidates := make([]Candidate, 0, len(a.domains))
	for name, sk := range a.domains {
		candidates = append(candidates, Candidate{Domain: name, Estimate: sk.Estimate()})
	}

	return BuildReport(a.clients.Estimate(), candidates, opts)
}

// Dataset returns a copy of the accumulated sketches as a shard dataset, so
// merged results can be written back out and aggregated again.
func (a *Aggregator) Dataset() *dataset.ShardDataset {
	a.mu.Lock()
	defer a.mu.Unlock()

	ds := &dataset.ShardDataset{
		Clients: a.clients.Clone(),
		Domains: make(map[string]*hll.Sketch, len(a.domains)),
	}

	for name, sk := range a.domains {
		ds.Domains[name] = sk.Clone()
	}

	return ds
}
