package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/magnitude"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

func newValidateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate REPORT...",
		Short: "Check JSON reports against the report schema",
		Args:  cobra.MinimumNArgs(1),
	}

	cmd.RunE = app.run("validate", func(_ context.Context, cmd *cobra.Command, args []string) error {
		limit, err := app.cfg.MaxShardBytes()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ok := app.colorizer(color.FgGreen)
		bad := app.colorizer(color.FgRed, color.Bold)

		var invalid int

		for _, path := range args {
			document, readErr := shardio.ReadAll(app.fs, path, limit)
			if readErr != nil {
				return readErr
			}

			violations, validateErr := magnitude.ValidateReport(document)

			switch {
			case validateErr == nil:
				ok.Fprintf(out, "%s: valid\n", path)
			case errors.Is(validateErr, magnitude.ErrInvalidReport):
				invalid++

				bad.Fprintf(out, "%s: invalid\n", path)

				for _, v := range violations {
					fmt.Fprintf(out, "  %s: %s\n", v.Field, v.Description)
				}
			default:
				return fmt.Errorf("%s: %w", path, validateErr)
			}
		}

		if invalid > 0 {
			return fmt.Errorf("%w: %d of %d report(s)", magnitude.ErrInvalidReport, invalid, len(args))
		}

		return nil
	})

	return cmd
}
