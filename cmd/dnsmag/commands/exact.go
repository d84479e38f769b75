package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/exact"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/ingest"
)

func newExactCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exact",
		Short: "Exact client-set reference path",
		Long: `Count clients with explicit sets instead of sketches. Memory grows with
the number of distinct clients, so this path is meant for checking sketch
accuracy on samples, not for production volumes.`,
	}

	cmd.AddCommand(newExactIngestCommand(app), newExactMagnitudeCommand(app))

	return cmd
}

func newExactIngestCommand(app *App) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:     "ingest [flags] [LOG...]",
		Short:   "Build an exact client-set file from query logs",
		Example: `  dnsmag exact ingest -o sample.sets.json.zst sample.log`,
	}

	flags.register(cmd, false)

	cmd.RunE = app.run("exact.ingest", func(ctx context.Context, cmd *cobra.Command, args []string) error {
		err := flags.apply(cmd, app)
		if err != nil {
			return err
		}

		opts, err := flags.options(app)
		if err != nil {
			return err
		}

		sets := exact.New()
		builder := ingest.NewBuilder(sets, opts, app.logger)

		err = app.readLogs(ctx, cmd, builder, args)
		if err != nil {
			return err
		}

		err = exact.Save(app.fs, flags.output, sets)
		if err != nil {
			return err
		}

		app.logger.InfoContext(ctx, "exact sets written",
			"path", flags.output,
			"queries", builder.Stats().Queries,
			"clients", sets.Clients(),
		)

		return nil
	})

	return cmd
}

func newExactMagnitudeCommand(app *App) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "magnitude [flags] SETS...",
		Short: "Compute exact DNS magnitude from client-set files",
		Args:  cobra.MinimumNArgs(1),
	}

	flags.register(cmd)

	cmd.RunE = app.run("exact.magnitude", func(ctx context.Context, cmd *cobra.Command, args []string) error {
		opts, format, err := flags.apply(cmd, app)
		if err != nil {
			return err
		}

		merged := exact.New()

		for _, path := range args {
			err = ctx.Err()
			if err != nil {
				return err
			}

			sets, loadErr := exact.Load(app.fs, path)
			if loadErr != nil {
				return loadErr
			}

			merged.Merge(sets)
		}

		return app.writeReport(cmd, &flags, merged.Report(opts), format)
	})

	return cmd
}
