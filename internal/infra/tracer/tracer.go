// Package tracer configures OpenTelemetry for the client and names the
// spans around connect, observe and frame dispatch.
package tracer

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"isaac-client/internal/infra/config"
)

const tracerName = "isaac-client"

// Span names.
const (
	SpanConnect  = "stream.connect"
	SpanObserve  = "stream.observe"
	SpanDispatch = "dispatch.frame"
)

// Attribute keys shared by the client spans.
const (
	KeyEndpoint = attribute.Key("isaac.endpoint")
	KeySession  = attribute.Key("isaac.session")
	KeyStream   = attribute.Key("isaac.stream")
	KeyDropable = attribute.Key("isaac.dropable")
	KeyWidth    = attribute.Key("isaac.frame.width")
	KeyHeight   = attribute.Key("isaac.frame.height")
	KeyHandlers = attribute.Key("isaac.frame.handlers")
)

// Shutdown flushes and stops the provider installed by Setup.
type Shutdown func(context.Context) error

// Option adjusts Setup.
type Option func(*setupOptions)

type setupOptions struct {
	exporter sdktrace.SpanExporter
	sync     bool
}

// WithExporter replaces the exporter named in the config. Spans are exported
// synchronously so tests can inspect them right after End.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *setupOptions) {
		o.exporter = exp
		o.sync = true
	}
}

// Setup installs the global TracerProvider described by cfg. Disabled
// tracing and the "noop" exporter install a noop provider.
func Setup(ctx context.Context, cfg config.TracerConfig, opts ...Option) (Shutdown, error) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	exporter := o.exporter
	if exporter == nil {
		var w io.Writer
		switch cfg.Exporter {
		case "stdout":
			w = os.Stdout
		case "stderr":
			w = os.Stderr
		case "noop", "":
			otel.SetTracerProvider(noop.NewTracerProvider())
			return noopShutdown, nil
		default:
			return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
		}
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
		}
	}

	export := sdktrace.WithBatcher(exporter)
	if o.sync {
		export = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(
		export,
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", tracerName))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// sampler keeps every span for ratios >= 1 and none for ratios <= 0. Child
// spans follow their parent.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// StartSpan starts a span on the client tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span (or marks it OK) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// FrameAttrs describes a framebuffer.
func FrameAttrs(width, height int) []attribute.KeyValue {
	return []attribute.KeyValue{KeyWidth.Int(width), KeyHeight.Int(height)}
}

// ObserveAttrs describes an observe request.
func ObserveAttrs(stream int, dropable bool) []attribute.KeyValue {
	return []attribute.KeyValue{KeyStream.Int(stream), KeyDropable.Bool(dropable)}
}
