package magnitude

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/observability"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

// tracerName is the default OTel tracer name for the magnitude package.
const tracerName = "dnsmagnitude"

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// Workers is the number of concurrent shard decoders. Zero or less
	// means runtime.GOMAXPROCS(0).
	Workers int

	// MaxShardSize caps the decompressed size of a shard. Zero means no limit.
	MaxShardSize int64

	// Logger receives per-shard progress. When nil, slog.Default() is used.
	Logger *slog.Logger

	// Tracer creates pipeline spans. When nil, falls back to otel.Tracer("dnsmagnitude").
	Tracer trace.Tracer

	// Metrics records shard statistics. May be nil.
	Metrics *observability.ShardMetrics
}

// Pipeline reads shard files concurrently and feeds the decoded datasets to
// a single reducer that owns all mutation of the Aggregator.
type Pipeline struct {
	fs   afero.Fs
	agg  *Aggregator
	opts PipelineOptions
}

// NewPipeline creates a pipeline reading from afs into agg.
func NewPipeline(afs afero.Fs, agg *Aggregator, opts PipelineOptions) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Pipeline{fs: afs, agg: agg, opts: opts}
}

// Aggregator returns the accumulator the pipeline merges into.
func (p *Pipeline) Aggregator() *Aggregator {
	return p.agg
}

type decoded struct {
	path string
	ds   *dataset.ShardDataset
}

// Run decodes and merges every shard in paths. Shards already merged into
// the aggregator are skipped, so calling Run again with the same list after
// a cancellation resumes where the previous run stopped.
//
// The first failing shard stops the run and is returned as a
// *ShardDecodeError. Cancellation of ctx stops submission of further shards
// and returns the context error. In both cases the aggregator holds a valid
// union of the shards merged before the stop.
func (p *Pipeline) Run(ctx context.Context, paths []string) error {
	pending := make([]string, 0, len(paths))

	for _, path := range paths {
		if !p.agg.Merged(path) {
			pending = append(pending, path)
		}
	}

	ctx, span := p.opts.Tracer.Start(ctx, "magnitude.pipeline",
		trace.WithAttributes(
			attribute.Int("pipeline.shards", len(pending)),
			attribute.Int("pipeline.skipped", len(paths)-len(pending)),
			attribute.Int("pipeline.workers", p.opts.Workers),
		))
	defer span.End()

	start := time.Now()

	err := p.run(ctx, pending)
	if err != nil {
		errType := observability.ErrTypeMalformedInput
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			errType = observability.ErrTypeCanceled
		}

		observability.RecordSpanError(span, err, errType)

		return err
	}

	p.opts.Logger.InfoContext(ctx, "shards merged",
		"shards", len(pending),
		"skipped", len(paths)-len(pending),
		"domains", p.agg.Domains(),
		"duration", time.Since(start),
	)

	return nil
}

func (p *Pipeline) run(ctx context.Context, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan string)
	results := make(chan decoded, p.opts.Workers)

	g.Go(func() error {
		defer close(jobs)

		for _, path := range paths {
			select {
			case jobs <- path:
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		return nil
	})

	var workers sync.WaitGroup

	for range p.opts.Workers {
		workers.Add(1)

		g.Go(func() error {
			defer workers.Done()

			for path := range jobs {
				ds, err := p.decode(gctx, path)
				if err != nil {
					return err
				}

				select {
				case results <- decoded{path: path, ds: ds}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			return nil
		})
	}

	g.Go(func() error {
		workers.Wait()
		close(results)

		return nil
	})

	g.Go(func() error {
		for res := range results {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			err := p.agg.Add(res.path, res.ds)
			if err != nil {
				return err
			}

			p.opts.Metrics.RecordMerge(gctx, len(res.ds.Domains))
		}

		return nil
	})

	return g.Wait()
}

// decode reads and decodes one shard and checks it against the aggregator
// precision, so mismatches are reported by the worker that found them.
func (p *Pipeline) decode(ctx context.Context, path string) (*dataset.ShardDataset, error) {
	ctx, span := p.opts.Tracer.Start(ctx, observability.SpanShardDecode,
		trace.WithAttributes(attribute.String("shard.path", path)))
	defer span.End()

	start := time.Now()

	ds, size, err := shardio.ReadDataset(p.fs, path, p.opts.MaxShardSize)
	if err == nil && ds.Precision() != p.agg.Precision() {
		err = hll.ErrPrecisionMismatch
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("shard.bytes", size))

	if err != nil {
		p.opts.Metrics.RecordDecode(ctx, observability.StatusError, elapsed, size)
		observability.RecordSpanError(span, err, observability.ErrTypeMalformedInput)

		return nil, &ShardDecodeError{Shard: path, Err: err}
	}

	p.opts.Metrics.RecordDecode(ctx, observability.StatusOK, elapsed, size)

	p.opts.Logger.DebugContext(ctx, "shard decoded",
		"shard", path,
		"size", humanize.IBytes(uint64(size)),
		"domains", len(ds.Domains),
		"duration", elapsed,
	)

	return ds, nil
}
