package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/magnitude"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

// reportFlags holds the flags of commands that produce a magnitude report.
type reportFlags struct {
	top    int
	output string
	format string
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.top, "top", 0, "Report only the N domains with the most clients (default from config, 0 = all)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Report file (default: standard output)")
	cmd.Flags().StringVar(&f.format, "format", string(magnitude.FormatJSON), "Output format: json, yaml, table")
}

func (f *reportFlags) apply(cmd *cobra.Command, a *App) (magnitude.ReportOptions, magnitude.Format, error) {
	if cmd.Flags().Changed("top") {
		a.cfg.Aggregate.Top = f.top
	}

	err := a.cfg.Validate()
	if err != nil {
		return magnitude.ReportOptions{}, "", err
	}

	format, err := magnitude.ParseFormat(f.format)
	if err != nil {
		return magnitude.ReportOptions{}, "", err
	}

	return magnitude.ReportOptions{Top: a.cfg.Aggregate.Top}, format, nil
}

func (a *App) writeReport(cmd *cobra.Command, f *reportFlags, report *magnitude.Report, format magnitude.Format) error {
	return a.writeOutput(cmd, f.output, func(w io.Writer) error {
		return magnitude.Render(w, report, format)
	})
}

func newMagnitudeCommand(app *App) *cobra.Command {
	var (
		aggFlags  aggregateFlags
		repFlags  reportFlags
		sketchOut string
	)

	cmd := &cobra.Command{
		Use:   "magnitude [flags] SHARD|DIR...",
		Short: "Compute DNS magnitude from shards",
		Long: `Merge shard files and report, for each domain, its magnitude
10 * ln(domain clients) / ln(total clients) rounded to three decimals, with
its estimated client count. Domains seen by at most one client are omitted.`,
		Example: `  dnsmag magnitude --top 1000 --format table shards/
  dnsmag magnitude -o report.json --hll-output merged.cbor.zst shards/`,
		Args: cobra.MinimumNArgs(1),
	}

	aggFlags.register(cmd)
	repFlags.register(cmd)
	cmd.Flags().StringVar(&sketchOut, "hll-output", "", "Also write the merged shard to this file")

	cmd.RunE = app.run("magnitude", func(ctx context.Context, cmd *cobra.Command, args []string) error {
		opts, format, err := repFlags.apply(cmd, app)
		if err != nil {
			return err
		}

		agg, err := app.aggregate(ctx, cmd, args, &aggFlags)
		if err != nil {
			return err
		}

		report := agg.Report(opts)

		if sketchOut != "" {
			err = shardio.WriteDataset(app.fs, sketchOut, agg.Dataset())
			if err != nil {
				return fmt.Errorf("write merged shard: %w", err)
			}
		}

		err = app.writeReport(cmd, &repFlags, report, format)
		if err != nil {
			return err
		}

		app.logger.InfoContext(ctx, "report written",
			"shards", agg.Shards(),
			"clients", report.Clients,
			"domains", len(report.Domains),
		)

		return nil
	})

	return cmd
}
