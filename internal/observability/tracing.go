package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span is the narrow tracing surface subsystems use to annotate pipeline
// stages, adapted from pkg/observability/interfaces.go's Span interface.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
	SetStatus(ok bool, description string)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) { s.span.RecordError(err) }

func (s *otelSpan) SetStatus(ok bool, description string) {
	if ok {
		s.span.SetStatus(codes.Ok, description)
	} else {
		s.span.SetStatus(codes.Error, description)
	}
}

var tracerName = "rag-retrieval-core"

// NewTracerProvider builds an in-process SDK tracer provider with no
// exporter wired by default (callers in production add a span processor);
// this is enough for local spans + attribute annotation of the pipeline.
func NewTracerProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	return tp
}

// StartSpan starts a child span under the package tracer, following the
// orchestrator.<stage> / rerank.<stage> naming convention used throughout
// the pack (e.g. pkg/embedding/rerank/reranker.go's "rerank.multistage").
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// noopSpan discards everything. Useful as a test default.
type noopSpan struct{}

func (noopSpan) End()                                {}
func (noopSpan) SetAttribute(string, interface{})    {}
func (noopSpan) RecordError(error)                   {}
func (noopSpan) SetStatus(bool, string)               {}

// StartNoopSpan returns a span that does nothing, for tests that don't care
// about tracing.
func StartNoopSpan(ctx context.Context) (context.Context, Span) {
	return ctx, noopSpan{}
}
