package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricShardsTotal         = "dnsmag.shards.total"
	metricShardDecodeDuration = "dnsmag.shard.decode.duration.seconds"
	metricDomainsMergedTotal  = "dnsmag.domains.merged.total"
	metricShardBytes          = "dnsmag.shard.bytes"
)

// shardDurationBoundaries covers 100µs to 60s; a shard decode is dominated
// by decompression and CBOR parsing.
var shardDurationBoundaries = []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60}

// shardSizeBoundaries covers 1 KiB to 4 GiB of decompressed container.
var shardSizeBoundaries = []float64{1 << 10, 64 << 10, 1 << 20, 16 << 20, 128 << 20, 1 << 30, 4 << 30}

// ShardMetrics holds OTel instruments for shard aggregation.
type ShardMetrics struct {
	shardsTotal    metric.Int64Counter
	decodeDuration metric.Float64Histogram
	domainsMerged  metric.Int64Counter
	shardBytes     metric.Int64Histogram
}

// NewShardMetrics creates shard metric instruments from the given meter.
func NewShardMetrics(mt metric.Meter) (*ShardMetrics, error) {
	shards, err := mt.Int64Counter(metricShardsTotal,
		metric.WithDescription("Total shards processed by status"),
		metric.WithUnit("{shard}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricShardsTotal, err)
	}

	decodeDur, err := mt.Float64Histogram(metricShardDecodeDuration,
		metric.WithDescription("Per-shard read and decode duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(shardDurationBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricShardDecodeDuration, err)
	}

	merged, err := mt.Int64Counter(metricDomainsMergedTotal,
		metric.WithDescription("Total domain sketches merged into the accumulator"),
		metric.WithUnit("{domain}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDomainsMergedTotal, err)
	}

	size, err := mt.Int64Histogram(metricShardBytes,
		metric.WithDescription("Decompressed shard container size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(shardSizeBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricShardBytes, err)
	}

	return &ShardMetrics{
		shardsTotal:    shards,
		decodeDuration: decodeDur,
		domainsMerged:  merged,
		shardBytes:     size,
	}, nil
}

// RecordDecode records one shard read attempt.
// Safe to call on a nil receiver (no-op).
func (sm *ShardMetrics) RecordDecode(ctx context.Context, status string, duration time.Duration, size int) {
	if sm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrStatus, status))

	sm.shardsTotal.Add(ctx, 1, attrs)
	sm.decodeDuration.Record(ctx, duration.Seconds(), attrs)

	if size > 0 {
		sm.shardBytes.Record(ctx, int64(size))
	}
}

// RecordMerge records the number of domain sketches folded from one shard.
// Safe to call on a nil receiver (no-op).
func (sm *ShardMetrics) RecordMerge(ctx context.Context, domains int) {
	if sm == nil {
		return
	}

	sm.domainsMerged.Add(ctx, int64(domains))
}
