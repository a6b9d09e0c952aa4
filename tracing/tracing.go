// Package tracing wires OpenTelemetry spans and a callback-latency
// histogram on top of the plain-text timing logger: an enrichment layered
// over the daemon's existing timing logs, never a replacement for them,
// and never fatal to start up if the OTLP endpoint is unreachable or
// unconfigured.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"

	"github.com/go-lynx/eventdaemon/log"
)

const instrumentationName = "github.com/go-lynx/eventdaemon/plugin"

var (
	tracer   trace.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	meter    metric.Meter = noopmetric.NewMeterProvider().Meter(instrumentationName)
	duration metric.Float64Histogram
)

// Provider bundles the SDK resources that must be shut down on exit.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init configures OpenTelemetry for this process. When otlpEndpoint is
// empty, tracer and meter remain no-ops: tracing is purely additive and
// its absence must never block the daemon from starting.
func Init(ctx context.Context, serviceName, otlpEndpoint string) (*Provider, error) {
	if otlpEndpoint == "" {
		log.Infof("tracing: no otlp_endpoint configured, using no-op exporter")
		return &Provider{}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		log.Warnf("tracing: failed to build resource, continuing without attributes: %v", err)
		res = resource.Default()
	}

	traceExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(otlpEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		log.Warnf("tracing: failed to create OTLP trace exporter, continuing without tracing: %v", err)
		return &Provider{}, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(instrumentationName)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	meter = mp.Meter(instrumentationName)

	h, err := meter.Float64Histogram(
		"shotgunevents.callback.duration",
		metric.WithDescription("Callback invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Warnf("tracing: failed to create callback duration histogram: %v", err)
	} else {
		duration = h
	}

	return &Provider{tp: tp, mp: mp}, nil
}

// Shutdown flushes and stops the tracer/meter providers, if any were
// created. Safe to call on a zero-value Provider (no-op case).
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			log.Warnf("tracing: tracer provider shutdown error: %v", err)
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			log.Warnf("tracing: meter provider shutdown error: %v", err)
		}
	}
}

// StartCallbackSpan starts a span named after the callback. Callers must
// call End() on the returned span (the plugin package does so via defer).
func StartCallbackSpan(ctx context.Context, callbackName string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "plugin.callback")
	span.SetAttributes(attribute.String("callback.name", callbackName))
	return ctx, span
}

// RecordCallbackDuration records a sample in the callback duration
// histogram and annotates the active span with the outcome.
func RecordCallbackDuration(ctx context.Context, callbackName string, d time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
	if duration == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("callback.name", callbackName)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	duration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
