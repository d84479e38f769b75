// Package config provides configuration loading and validation for dnsmag.
package config

import "github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/hll"

// Sketch defaults.
const (
	DefaultPrecision = hll.DefaultPrecision
)

// Aggregation defaults.
const (
	// DefaultWorkers of zero means one decode worker per CPU.
	DefaultWorkers = 0
	// DefaultTop of zero reports every domain.
	DefaultTop = 0
	// DefaultCheckpoint of "" disables aggregation checkpoints.
	DefaultCheckpoint = ""
)

// Ingest defaults.
const (
	DefaultLabels   = 0
	DefaultMinimize = false
	DefaultInclude  = ""
)

// IO defaults.
const (
	DefaultCompression  = "none"
	DefaultMaxShardSize = "1GiB"
)

// Logging defaults.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false
)

// Telemetry defaults.
const (
	DefaultOTLPEndpoint = ""
	DefaultOTLPInsecure = false
	DefaultMetricsFile  = ""
)
