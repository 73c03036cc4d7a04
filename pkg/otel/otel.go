package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry configuration.
type Config struct {
	ServiceName       string
	ServiceVersion    string
	Environment       string
	CollectorEndpoint string
	CollectorInsecure bool
	SamplingRate      float64 // 0.0 to 1.0 (1.0 = always sample)
}

// DefaultConfig returns defaults suitable for local development.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:       serviceName,
		ServiceVersion:    "0.3.0",
		Environment:       "development",
		CollectorEndpoint: "localhost:4317",
		CollectorInsecure: true, // Use TLS in production
		SamplingRate:      1.0,
	}
}

// InitTracer initializes OpenTelemetry tracing with an OTLP gRPC exporter
// and installs the provider globally.
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("barricade")
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.CollectorEndpoint),
		otlptracegrpc.WithInsecure(), // Use WithTLSCredentials in production
	)
	if err != nil {
		return nil, fmt.Errorf("otel: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes and stops the tracer provider.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return tp.Shutdown(ctx)
}

// StartSpan starts a span on the named tracer with optional attributes.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError records an error on a span and marks the span as failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Attribute keys used across the certification pipeline.
const (
	AttrAlgorithm   = attribute.Key("barrier.algorithm")
	AttrRegions     = attribute.Key("barrier.regions")
	AttrDimension   = attribute.Key("barrier.dimension")
	AttrTimeHorizon = attribute.Key("barrier.time_horizon")
	AttrBeta        = attribute.Key("barrier.beta")
	AttrEta         = attribute.Key("barrier.eta")
	AttrSafetyBound = attribute.Key("barrier.safety_bound")
	AttrUpperBound  = attribute.Key("transition.upper_bound")
	AttrCacheHit    = attribute.Key("certificate.cache_hit")
)

// SweepAttributes describes one transition-probability sweep.
func SweepAttributes(regions, dimension int, upperBound string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRegions.Int(regions),
		AttrDimension.Int(dimension),
		AttrUpperBound.String(upperBound),
	}
}

// SolveAttributes describes one barrier synthesis solve.
func SolveAttributes(algorithm string, regions, horizon int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAlgorithm.String(algorithm),
		AttrRegions.Int(regions),
		AttrTimeHorizon.Int(horizon),
	}
}

// CertificateAttributes describes a finished certificate.
func CertificateAttributes(beta, eta, safetyBound float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBeta.Float64(beta),
		AttrEta.Float64(eta),
		AttrSafetyBound.Float64(safetyBound),
	}
}
