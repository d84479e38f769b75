package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/ingest"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

// stdinName selects standard input in place of a log file.
const stdinName = "-"

// ErrNoOutput is returned when a command that writes a file has no --output.
var ErrNoOutput = errors.New("an output path is required, set --output")

// ingestFlags holds the flags shared by `ingest` and `exact ingest`.
type ingestFlags struct {
	output      string
	labels      int
	minimize    bool
	include     string
	top         int
	precision   int
	compression string
}

func (f *ingestFlags) register(cmd *cobra.Command, withSketch bool) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output file")
	cmd.Flags().IntVar(&f.labels, "labels", 0, "Keep only the rightmost N labels of each domain (0 = full name)")
	cmd.Flags().BoolVar(&f.minimize, "minimize", false, "Reduce client addresses to their /24 or /48 network")
	cmd.Flags().StringVar(&f.include, "include", "", "Only count domains matching this regular expression")

	if withSketch {
		cmd.Flags().IntVar(&f.top, "top", 0, "Keep only the N most popular domains (0 = all)")
		cmd.Flags().IntVar(&f.precision, "precision", 0, "Sketch precision, 4 to 16 (default from config)")
		cmd.Flags().StringVar(&f.compression, "compression", "", "Compress the shard: none, lz4, zstd (default from config)")
	}
}

// apply folds changed flags into the loaded configuration and validates it.
func (f *ingestFlags) apply(cmd *cobra.Command, a *App) error {
	changed := cmd.Flags().Changed

	if changed("labels") {
		a.cfg.Ingest.Labels = f.labels
	}

	if changed("minimize") {
		a.cfg.Ingest.Minimize = f.minimize
	}

	if changed("include") {
		a.cfg.Ingest.Include = f.include
	}

	if changed("precision") {
		a.cfg.Sketch.Precision = f.precision
	}

	if changed("compression") {
		a.cfg.IO.Compression = f.compression
	}

	if f.top < 0 {
		return fmt.Errorf("--top must not be negative: %d", f.top)
	}

	if f.output == "" {
		return ErrNoOutput
	}

	return a.cfg.Validate()
}

func (f *ingestFlags) options(a *App) (ingest.Options, error) {
	include, err := a.cfg.IncludePattern()
	if err != nil {
		return ingest.Options{}, err
	}

	return ingest.Options{
		Labels:   a.cfg.Ingest.Labels,
		Minimize: a.cfg.Ingest.Minimize,
		Include:  include,
	}, nil
}

func newIngestCommand(app *App) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest [flags] [LOG...]",
		Short: "Build a shard from DNS query logs",
		Long: `Read query logs ("<domain> <client> [...]" per line) and write a shard
holding one sketch of all clients and one sketch per domain. With no LOG
arguments, or "-", the log is read from standard input.`,
		Example: `  dnsmag ingest --minimize -o shards/resolver1.cbor.zst /var/log/dns/queries.log
  zcat queries.log.gz | dnsmag ingest --top 100000 -o resolver1.cbor`,
	}

	flags.register(cmd, true)

	cmd.RunE = app.run("ingest", func(ctx context.Context, cmd *cobra.Command, args []string) error {
		return app.ingest(ctx, cmd, args, &flags)
	})

	return cmd
}

func (a *App) ingest(ctx context.Context, cmd *cobra.Command, args []string, flags *ingestFlags) error {
	err := flags.apply(cmd, a)
	if err != nil {
		return err
	}

	opts, err := flags.options(a)
	if err != nil {
		return err
	}

	ds, err := dataset.New(a.cfg.Precision())
	if err != nil {
		return err
	}

	builder := ingest.NewBuilder(ds, opts, a.logger)

	err = a.readLogs(ctx, cmd, builder, args)
	if err != nil {
		return err
	}

	if flags.top > 0 {
		ds.Retain(ingest.TopDomains(ds, flags.top))
	}

	output := shardio.WithSuffix(flags.output, a.cfg.Compression())

	err = shardio.WriteDataset(a.fs, output, ds)
	if err != nil {
		return err
	}

	stats := builder.Stats()

	a.logger.InfoContext(ctx, "shard written",
		"path", output,
		"queries", stats.Queries,
		"malformed", stats.Malformed,
		"filtered", stats.Filtered,
		"domains", len(ds.Domains),
		"precision", ds.Precision(),
	)

	return nil
}

// readLogs feeds every named log, or standard input, into builder.
func (a *App) readLogs(ctx context.Context, cmd *cobra.Command, builder *ingest.Builder, args []string) error {
	if len(args) == 0 {
		args = []string{stdinName}
	}

	for _, name := range args {
		err := a.readLog(ctx, cmd, builder, name)
		if err != nil {
			return err
		}
	}

	return nil
}

func (a *App) readLog(ctx context.Context, cmd *cobra.Command, builder *ingest.Builder, name string) error {
	var r io.ReadCloser

	if name == stdinName {
		r = io.NopCloser(cmd.InOrStdin())
	} else {
		opened, err := shardio.Open(a.fs, name)
		if err != nil {
			return err
		}

		r = opened
	}
	defer r.Close()

	_, err := builder.Read(ctx, name, r)

	return err
}
