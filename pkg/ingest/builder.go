package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/magnitude"
)

// cancelCheckInterval is how many queries are consumed between context checks.
const cancelCheckInterval = 4096

// Sink receives observations. Both *dataset.ShardDataset and *exact.Dataset
// satisfy it.
type Sink interface {
	Observe(clientKey []byte, domain string)
}

// Builder feeds query logs into a sink.
type Builder struct {
	sink   Sink
	opts   Options
	logger *slog.Logger
	total  Stats
}

// NewBuilder creates a builder writing into sink. A nil logger means
// slog.Default().
func NewBuilder(sink Sink, opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{sink: sink, opts: opts, logger: logger}
}

// Read consumes one query log. name identifies the source in logs.
func (b *Builder) Read(ctx context.Context, name string, r io.Reader) (Stats, error) {
	start := time.Now()
	log := NewQueryLog(r, b.opts)

	for client, domain := range log.All() {
		b.sink.Observe(client, domain)

		if log.Stats().Queries%cancelCheckInterval == 0 && ctx.Err() != nil {
			b.add(log.Stats())

			return log.Stats(), ctx.Err()
		}
	}

	stats := log.Stats()
	b.add(stats)

	err := log.Err()
	if err != nil {
		return stats, fmt.Errorf("read %s: %w", name, err)
	}

	b.logger.InfoContext(ctx, "processed query log",
		"source", name,
		"queries", stats.Queries,
		"malformed", stats.Malformed,
		"filtered", stats.Filtered,
		"cache_hits", stats.CacheHits,
		"duration", time.Since(start),
	)

	return stats, nil
}

func (b *Builder) add(s Stats) {
	b.total.Lines += s.Lines
	b.total.Queries += s.Queries
	b.total.Malformed += s.Malformed
	b.total.Filtered += s.Filtered
	b.total.CacheHits += s.CacheHits
}

// Stats returns the counters summed over every log read so far.
func (b *Builder) Stats() Stats {
	return b.total
}

// TopDomains returns the n domains of ds with the most estimated clients,
// ranked as the aggregator ranks them for top-N reports.
func TopDomains(ds *dataset.ShardDataset, n int) []string {
	candidates := make([]magnitude.Candidate, 0, len(ds.Domains))
	for name, sk := range ds.Domains {
		candidates = append(candidates, magnitude.Candidate{Domain: name, Estimate: sk.Estimate()})
	}

	top := magnitude.SelectTop(candidates, n, magnitude.ByEstimate)

	names := make([]string, len(top))
	for i, c := range top {
		names[i] = c.Domain
	}

	return names
}
