package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error classification recorded on failed spans.
const (
	ErrTypeMalformedInput = "malformed_input"
	ErrTypeIO             = "io"
	ErrTypeCanceled       = "canceled"
	ErrTypeInternal       = "internal"

	attrErrorType = "error.type"
)

// RecordSpanError marks span as failed with err and tags it with errType.
// A nil err is ignored.
func RecordSpanError(span trace.Span, err error, errType string) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(attrErrorType, errType))
}
