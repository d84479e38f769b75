// Package commands implements CLI command handlers for dnsmag.
package commands

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/config"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/dataset"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/magnitude"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/observability"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/version"
)

// App holds the state shared by every dnsmag command: global flags, the
// loaded configuration and the telemetry providers of the current run.
type App struct {
	fs afero.Fs

	configPath  string
	logLevel    string
	logJSON     bool
	noColor     bool
	metricsFile string

	cfg      *config.Config
	logger   *slog.Logger
	tracer   trace.Tracer
	red      *observability.REDMetrics
	shards   *observability.ShardMetrics
	shutdown func(ctx context.Context) error
}

// NewRootCommand creates the dnsmag root command operating on the OS
// filesystem.
func NewRootCommand() *cobra.Command {
	return newRootCommand(afero.NewOsFs())
}

func newRootCommand(afs afero.Fs) *cobra.Command {
	app := &App{fs: afs}

	rootCmd := &cobra.Command{
		Use:   "dnsmag",
		Short: "DNS magnitude - domain popularity from resolver query logs",
		Long: `dnsmag measures domain popularity as DNS magnitude: the share of all
clients that queried a domain, on a logarithmic 0-10 scale. Client sets are
kept as HyperLogLog sketches so shards from many resolvers can be merged.

Commands:
  ingest     Build a shard from query logs
  merge      Fold shards into one shard
  magnitude  Compute a magnitude report from shards
  exact      Exact-set reference path for accuracy checks
  inspect    Summarize shard files
  validate   Check a report against the report schema`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "Config file (default: dnsmag.yaml in ., ./config, /etc/dnsmag)")
	flags.StringVar(&app.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")
	flags.BoolVar(&app.logJSON, "log-json", false, "Emit JSON logs")
	flags.BoolVar(&app.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&app.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	rootCmd.AddCommand(
		newIngestCommand(app),
		newMergeCommand(app),
		newMagnitudeCommand(app),
		newExactCommand(app),
		newInspectCommand(app),
		newValidateCommand(app),
		newVersionCommand(),
	)

	return rootCmd
}

// setup loads configuration, applies global flag overrides and initializes
// telemetry for one command invocation.
func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}

	if a.logJSON {
		cfg.Logging.JSON = true
	}

	if cmd.Flags().Changed("metrics-file") {
		cfg.Telemetry.MetricsFile = a.metricsFile
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.MetricsFile = cfg.Telemetry.MetricsFile
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.JSON
	obsCfg.LogOutput = cmd.ErrOrStderr()

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return err
	}

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return errors.Join(err, providers.Shutdown(context.Background()))
	}

	shards, err := observability.NewShardMetrics(providers.Meter)
	if err != nil {
		return errors.Join(err, providers.Shutdown(context.Background()))
	}

	a.cfg = cfg
	a.logger = providers.Logger
	a.tracer = providers.Tracer
	a.red = red
	a.shards = shards
	a.shutdown = providers.Shutdown

	return nil
}

type runFunc func(ctx context.Context, cmd *cobra.Command, args []string) error

// run wraps a command body with setup, a command span, RED metrics and
// telemetry shutdown.
func (a *App) run(name string, body runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		setupErr := a.setup(cmd)
		if setupErr != nil {
			return setupErr
		}

		ctx, span := a.tracer.Start(cmd.Context(), "dnsmag."+name,
			trace.WithAttributes(attribute.String("command", name)))
		done := a.red.TrackInflight(ctx, name)
		start := time.Now()

		defer func() {
			done()
			a.red.RecordCommand(ctx, name, observability.StatusOf(err), time.Since(start))
			observability.RecordSpanError(span, err, errorType(err))
			span.End()

			err = errors.Join(err, a.shutdown(context.WithoutCancel(ctx)))
		}()

		return body(ctx, cmd, args)
	}
}

// colorizer returns attrs as a color that honors --no-color.
func (a *App) colorizer(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if a.noColor {
		c.DisableColor()
	}

	return c
}

func errorType(err error) string {
	var decodeErr *magnitude.ShardDecodeError

	var pathErr *fs.PathError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.ErrTypeCanceled
	case errors.As(err, &pathErr):
		return observability.ErrTypeIO
	case errors.As(err, &decodeErr), errors.Is(err, dataset.ErrMalformedDataset):
		return observability.ErrTypeMalformedInput
	default:
		return observability.ErrTypeInternal
	}
}
