package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCommandsTotal   = "dnsmag.commands.total"
	metricCommandDuration = "dnsmag.command.duration.seconds"
	metricErrorsTotal     = "dnsmag.errors.total"
	metricInflight        = "dnsmag.inflight.commands"

	attrCommand = "command"
	attrStatus  = "status"
)

// Status values recorded on command and shard metrics.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// durationBucketBoundaries covers 10ms to 1h; ingest of a day of query logs
// or aggregation of a large shard set can run for tens of minutes.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}

// REDMetrics holds the OTel instruments for Rate, Error, Duration metrics
// of dnsmag commands.
type REDMetrics struct {
	commandsTotal   metric.Int64Counter
	commandDuration metric.Float64Histogram
	errorsTotal     metric.Int64Counter
	inflight        metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	total, err := mt.Int64Counter(metricCommandsTotal,
		metric.WithDescription("Total number of commands run"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCommandsTotal, err)
	}

	duration, err := mt.Float64Histogram(metricCommandDuration,
		metric.WithDescription("Command duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCommandDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Total number of failed commands"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflight,
		metric.WithDescription("Number of commands in progress"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflight, err)
	}

	return &REDMetrics{
		commandsTotal:   total,
		commandDuration: duration,
		errorsTotal:     errTotal,
		inflight:        inflight,
	}, nil
}

// RecordCommand records a finished command with its status and duration.
func (rm *REDMetrics) RecordCommand(ctx context.Context, command, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrCommand, command),
		attribute.String(attrStatus, status),
	)

	rm.commandsTotal.Add(ctx, 1, attrs)
	rm.commandDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrCommand, command),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to decrement it.
func (rm *REDMetrics) TrackInflight(ctx context.Context, command string) func() {
	attrs := metric.WithAttributes(attribute.String(attrCommand, command))
	rm.inflight.Add(ctx, 1, attrs)

	return func() {
		rm.inflight.Add(ctx, -1, attrs)
	}
}

// StatusOf maps an error to StatusOK or StatusError.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}

	return StatusOK
}
