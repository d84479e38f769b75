package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// keyRule matches an attribute key exactly, or by prefix when the pattern
// ends in a dot.
type keyRule string

func (r keyRule) matches(key string) bool {
	if strings.HasSuffix(string(r), ".") {
		return strings.HasPrefix(key, string(r))
	}

	return key == string(r)
}

// deniedKeys name resolver users: client addresses and queried names. They
// win over exportedKeys, and log attributes under them are redacted.
var deniedKeys = []keyRule{"client", "client.", "domain", "qname", "query.", "user.", "email"}

// exportedKeys is the allow-list; anything not matched is dropped.
var exportedKeys = []keyRule{
	"dnsmag.", "pipeline.", "shard.", "ingest.", "report.",
	"error", "error.", "command",
}

func matchAny(rules []keyRule, key string) bool {
	for _, r := range rules {
		if r.matches(key) {
			return true
		}
	}

	return false
}

// exportable reports whether a span attribute may leave the process.
func exportable(key string) bool {
	return !matchAny(deniedKeys, key) && matchAny(exportedKeys, key)
}

// attributeFilter drops non-exportable span attributes before the span
// reaches the delegate processor.
type attributeFilter struct {
	delegate sdktrace.SpanProcessor
	logger   *slog.Logger
}

// NewAttributeFilter wraps delegate so exported spans only carry allow-listed
// attributes. A non-nil logger receives a warning per dropped key.
func NewAttributeFilter(delegate sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &attributeFilter{delegate: delegate, logger: logger}
}

func (f *attributeFilter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	f.delegate.OnStart(parent, s)
}

// OnEnd hands the delegate a view of s with the attribute set already
// filtered, so the policy runs once per span.
func (f *attributeFilter) OnEnd(s sdktrace.ReadOnlySpan) {
	all := s.Attributes()
	kept := make([]attribute.KeyValue, 0, len(all))

	for _, kv := range all {
		if exportable(string(kv.Key)) {
			kept = append(kept, kv)

			continue
		}

		if f.logger != nil {
			f.logger.Warn("span attribute blocked by filter", "key", string(kv.Key), "span", s.Name())
		}
	}

	f.delegate.OnEnd(filteredSpan{ReadOnlySpan: s, attrs: kept})
}

func (f *attributeFilter) Shutdown(ctx context.Context) error {
	if err := f.delegate.Shutdown(ctx); err != nil {
		return fmt.Errorf("attribute filter shutdown: %w", err)
	}

	return nil
}

func (f *attributeFilter) ForceFlush(ctx context.Context) error {
	if err := f.delegate.ForceFlush(ctx); err != nil {
		return fmt.Errorf("attribute filter flush: %w", err)
	}

	return nil
}

type filteredSpan struct {
	sdktrace.ReadOnlySpan

	attrs []attribute.KeyValue
}

func (s filteredSpan) Attributes() []attribute.KeyValue { return s.attrs }
