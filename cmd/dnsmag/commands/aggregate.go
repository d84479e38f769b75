package commands

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/checkpoint"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/magnitude"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

// aggregateFlags holds the flags of commands that fold shards together.
type aggregateFlags struct {
	precision    int
	workers      int
	maxShardSize string
	checkpoint   string
}

func (f *aggregateFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.precision, "precision", 0, "Precision every shard must have (default from config)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent shard decoders (0 = one per CPU)")
	cmd.Flags().StringVar(&f.maxShardSize, "max-shard-size", "", "Reject shards larger than this once decompressed, e.g. 512MiB (default from config)")
	cmd.Flags().StringVar(&f.checkpoint, "checkpoint", "", "Directory to save progress in when interrupted and resume from on the next run")
}

func (f *aggregateFlags) apply(cmd *cobra.Command, a *App) error {
	changed := cmd.Flags().Changed

	if changed("precision") {
		a.cfg.Sketch.Precision = f.precision
	}

	if changed("workers") {
		a.cfg.Aggregate.Workers = f.workers
	}

	if changed("max-shard-size") {
		a.cfg.IO.MaxShardSize = f.maxShardSize
	}

	if changed("checkpoint") {
		a.cfg.Aggregate.Checkpoint = f.checkpoint
	}

	return a.cfg.Validate()
}

// aggregate merges every shard named by args, expanding directories, into
// a fresh aggregator. With a checkpoint directory configured, a run that
// stops early saves its partial union there and the next run resumes from it.
func (a *App) aggregate(ctx context.Context, cmd *cobra.Command, args []string, f *aggregateFlags) (*magnitude.Aggregator, error) {
	err := f.apply(cmd, a)
	if err != nil {
		return nil, err
	}

	paths, err := shardio.Expand(a.fs, args)
	if err != nil {
		return nil, err
	}

	limit, err := a.cfg.MaxShardBytes()
	if err != nil {
		return nil, err
	}

	var cp *checkpoint.Manager
	if a.cfg.Aggregate.Checkpoint != "" {
		cp = checkpoint.NewManager(a.fs, a.cfg.Aggregate.Checkpoint)
	}

	agg, err := a.newAggregator(ctx, cp)
	if err != nil {
		return nil, err
	}

	pipeline := magnitude.NewPipeline(a.fs, agg, magnitude.PipelineOptions{
		Workers:      a.cfg.Aggregate.Workers,
		MaxShardSize: limit,
		Logger:       a.logger,
		Tracer:       a.tracer,
		Metrics:      a.shards,
	})

	err = pipeline.Run(ctx, paths)
	if err != nil {
		if cp != nil && agg.Shards() > 0 {
			saveErr := cp.Save(agg)
			if saveErr != nil {
				return nil, errors.Join(err, saveErr)
			}

			a.logger.WarnContext(ctx, "aggregation stopped, progress saved",
				"checkpoint", cp.Dir(), "shards", agg.Shards())
		}

		return nil, err
	}

	if cp != nil && cp.Exists() {
		err = cp.Clear()
		if err != nil {
			return nil, err
		}
	}

	return agg, nil
}

func (a *App) newAggregator(ctx context.Context, cp *checkpoint.Manager) (*magnitude.Aggregator, error) {
	if cp == nil || !cp.Exists() {
		return magnitude.NewAggregator(a.cfg.Precision())
	}

	agg, err := cp.Load(a.cfg.Precision())
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "resuming from checkpoint",
		"checkpoint", cp.Dir(), "shards", agg.Shards())

	return agg, nil
}

// writeOutput streams write into path, or into standard output when path is
// empty or "-". Files are compressed according to their suffix.
func (a *App) writeOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" || path == stdinName {
		return write(cmd.OutOrStdout())
	}

	w, err := shardio.Create(a.fs, path)
	if err != nil {
		return err
	}

	err = write(w)
	if err != nil {
		w.Close()

		return err
	}

	return w.Close()
}
