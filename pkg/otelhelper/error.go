package otelhelper

import (
	"errors"

	"github.com/kindred-org/kindred/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorKindKey classifies recorded errors so traces can be filtered by failure class.
const ErrorKindKey = "kindred.error.kind"

// SetError marks span as failed and records err with its kind.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String(ErrorKindKey, ErrorKind(err)))

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}

// ErrorKind maps domain errors to a short label.
func ErrorKind(err error) string {
	switch {
	case models.IsValidationError(err):
		return "validation"
	case models.IsConfigurationError(err):
		return "configuration"
	case models.IsActionExecutionError(err):
		return "action"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
