package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"
	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/shardio"
)

// Sentinel validation errors.
var (
	ErrInvalidPrecision    = errors.New("sketch precision out of range")
	ErrInvalidWorkers      = errors.New("aggregate workers must not be negative")
	ErrInvalidTop          = errors.New("aggregate top must not be negative")
	ErrInvalidLabels       = errors.New("ingest labels must not be negative")
	ErrInvalidInclude      = errors.New("invalid ingest include pattern")
	ErrInvalidCompression  = errors.New("invalid io compression")
	ErrInvalidMaxShardSize = errors.New("invalid io max shard size")
	ErrInvalidLogLevel     = errors.New("invalid logging level")
)

// Config holds all configuration for dnsmag.
type Config struct {
	Sketch    SketchConfig    `mapstructure:"sketch"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	IO        IOConfig        `mapstructure:"io"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SketchConfig holds sketch parameters for newly built shards.
type SketchConfig struct {
	Precision int `mapstructure:"precision"`
}

// AggregateConfig holds aggregation settings.
type AggregateConfig struct {
	Workers    int    `mapstructure:"workers"`
	Top        int    `mapstructure:"top"`
	Checkpoint string `mapstructure:"checkpoint"`
}

// IngestConfig holds query-log ingestion settings.
type IngestConfig struct {
	Labels   int    `mapstructure:"labels"`
	Minimize bool   `mapstructure:"minimize"`
	Include  string `mapstructure:"include"`
}

// IOConfig holds shard file settings.
type IOConfig struct {
	Compression  string `mapstructure:"compression"`
	MaxShardSize string `mapstructure:"max_shard_size"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OpenTelemetry and metrics export settings.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	MetricsFile  string `mapstructure:"metrics_file"`
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches for dnsmag.yaml in the working directory,
// ./config and /etc/dnsmag; not finding one is not an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("dnsmag")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/dnsmag")
	}

	viperCfg.SetEnvPrefix("DNSMAG")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := config.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("sketch.precision", DefaultPrecision)

	viperCfg.SetDefault("aggregate.workers", DefaultWorkers)
	viperCfg.SetDefault("aggregate.top", DefaultTop)
	viperCfg.SetDefault("aggregate.checkpoint", DefaultCheckpoint)

	viperCfg.SetDefault("ingest.labels", DefaultLabels)
	viperCfg.SetDefault("ingest.minimize", DefaultMinimize)
	viperCfg.SetDefault("ingest.include", DefaultInclude)

	viperCfg.SetDefault("io.compression", DefaultCompression)
	viperCfg.SetDefault("io.max_shard_size", DefaultMaxShardSize)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.json", DefaultLogJSON)

	viperCfg.SetDefault("telemetry.otlp_endpoint", DefaultOTLPEndpoint)
	viperCfg.SetDefault("telemetry.otlp_insecure", DefaultOTLPInsecure)
	viperCfg.SetDefault("telemetry.metrics_file", DefaultMetricsFile)
}

// Validate checks every setting and returns the first violation.
func (c *Config) Validate() error {
	if c.Sketch.Precision < 0 || c.Sketch.Precision > 255 || !hll.ValidPrecision(uint8(c.Sketch.Precision)) {
		return fmt.Errorf("%w: %d", ErrInvalidPrecision, c.Sketch.Precision)
	}

	if c.Aggregate.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Aggregate.Workers)
	}

	if c.Aggregate.Top < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTop, c.Aggregate.Top)
	}

	if c.Ingest.Labels < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLabels, c.Ingest.Labels)
	}

	if _, err := c.IncludePattern(); err != nil {
		return err
	}

	if _, err := shardio.ParseCompression(c.IO.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCompression, err)
	}

	if _, err := c.MaxShardBytes(); err != nil {
		return err
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return nil
}

// Precision returns the sketch precision as the sketch package types it.
func (c *Config) Precision() uint8 {
	return uint8(c.Sketch.Precision)
}

// IncludePattern compiles ingest.include. An empty pattern yields nil.
func (c *Config) IncludePattern() (*regexp.Regexp, error) {
	if c.Ingest.Include == "" {
		return nil, nil
	}

	re, err := regexp.Compile(c.Ingest.Include)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInclude, err)
	}

	return re, nil
}

// Compression returns the configured shard compression.
func (c *Config) Compression() shardio.Compression {
	comp, err := shardio.ParseCompression(c.IO.Compression)
	if err != nil {
		return shardio.None
	}

	return comp
}

// MaxShardBytes parses io.max_shard_size, such as "512MiB" or "2GB".
func (c *Config) MaxShardBytes() (int64, error) {
	return ParseSize(c.IO.MaxShardSize)
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	return ParseLogLevel(c.Logging.Level)
}

// ParseSize parses a human readable, strictly positive byte size.
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidMaxShardSize, err)
	}

	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMaxShardSize, s)
	}

	return int64(n), nil
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}

	return level, nil
}
