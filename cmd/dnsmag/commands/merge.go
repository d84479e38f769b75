package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

func newMergeCommand(app *App) *cobra.Command {
	var (
		flags  aggregateFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "merge [flags] SHARD|DIR...",
		Short: "Fold shards into a single shard",
		Long: `Merge shard files into one shard whose sketches are the union of the
inputs. Directories are searched recursively for *.cbor, *.cbor.lz4 and
*.cbor.zst files.`,
		Example: `  dnsmag merge -o daily/2026-10-19.cbor.zst shards/`,
		Args:    cobra.MinimumNArgs(1),
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output shard file")

	cmd.RunE = app.run("merge", func(ctx context.Context, cmd *cobra.Command, args []string) error {
		if output == "" {
			return ErrNoOutput
		}

		agg, err := app.aggregate(ctx, cmd, args, &flags)
		if err != nil {
			return err
		}

		path := shardio.WithSuffix(output, app.cfg.Compression())

		err = shardio.WriteDataset(app.fs, path, agg.Dataset())
		if err != nil {
			return err
		}

		app.logger.InfoContext(ctx, "merged shard written",
			"path", path,
			"shards", agg.Shards(),
			"domains", agg.Domains(),
		)

		return nil
	})

	return cmd
}
