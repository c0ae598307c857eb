package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fndparking/admin/internal/config"
)

const (
	defaultSampleRate = 0.1
	storeTracerName   = "github.com/fndparking/admin/internal/storage"
)

// Telemetry owns the tracer provider behind the store spans.
type Telemetry struct {
	provider *sdktrace.TracerProvider
	Tracer   trace.Tracer
}

// New builds the tracer provider. Without an enabled OTLP endpoint spans are
// never sampled and nothing is exported.
func New(ctx context.Context, cfg config.OtelConfig, app config.AppConfig) (*Telemetry, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return newTelemetry(sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))), nil
	}

	creds := credentials.NewClientTLSFromCert(nil, "")
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(5*time.Second),
		otlptracegrpc.WithTLSCredentials(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(app.Version),
		semconv.DeploymentEnvironment(app.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	return newTelemetry(tp), nil
}

func newTelemetry(tp *sdktrace.TracerProvider) *Telemetry {
	return &Telemetry{provider: tp, Tracer: tp.Tracer(storeTracerName)}
}

// sampler samples a share of root traces and follows the parent otherwise.
// Rates outside (0, 1] fall back to the default.
func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate > 1 {
		rate = defaultSampleRate
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown flushes buffered spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
