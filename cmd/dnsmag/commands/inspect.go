package commands

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

func newInspectCommand(app *App) *cobra.Command {
	var maxShardSize string

	cmd := &cobra.Command{
		Use:   "inspect [flags] SHARD|DIR...",
		Short: "Summarize shard files",
		Long: `Print, for each shard, its precision, estimated client count, number of
domains, how many domain sketches use the sparse and dense encodings, the
decompressed size and the domain with the most clients.`,
		Args: cobra.MinimumNArgs(1),
	}

	cmd.Flags().StringVar(&maxShardSize, "max-shard-size", "", "Reject shards larger than this once decompressed (default from config)")

	cmd.RunE = app.run("inspect", func(ctx context.Context, cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("max-shard-size") {
			app.cfg.IO.MaxShardSize = maxShardSize
		}

		limit, err := app.cfg.MaxShardBytes()
		if err != nil {
			return err
		}

		paths, err := shardio.Expand(app.fs, args)
		if err != nil {
			return err
		}

		tbl := table.NewWriter()
		tbl.SetStyle(table.StyleLight)
		tbl.Style().Options.DrawBorder = false
		tbl.Style().Options.SeparateRows = false
		tbl.AppendHeader(table.Row{"Shard", "p", "Clients", "Domains", "Sparse", "Dense", "Size", "Top domain"})
		tbl.SetColumnConfigs([]table.ColumnConfig{
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
			{Number: 6, Align: text.AlignRight},
			{Number: 7, Align: text.AlignRight},
		})

		for _, path := range paths {
			err = ctx.Err()
			if err != nil {
				return err
			}

			ds, size, readErr := shardio.ReadDataset(app.fs, path, limit)
			if readErr != nil {
				return readErr
			}

			s := ds.Summarize()

			top := "-"
			if s.LargestDomain != "" {
				top = fmt.Sprintf("%s (%s)", s.LargestDomain, humanize.Comma(int64(s.LargestClients+0.5)))
			}

			tbl.AppendRow(table.Row{
				path,
				s.Precision,
				humanize.Comma(int64(s.Clients + 0.5)),
				humanize.Comma(int64(s.Domains)),
				humanize.Comma(int64(s.SparseDomains)),
				humanize.Comma(int64(s.DenseDomains)),
				humanize.IBytes(uint64(size)),
				top,
			})
		}

		out := cmd.OutOrStdout()

		_, err = app.colorizer(color.Bold).Fprintf(out, "%d shard(s)\n", len(paths))
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(out, tbl.Render())

		return err
	})

	return cmd
}
