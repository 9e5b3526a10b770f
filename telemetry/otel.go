package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// InstrumentationName identifies tracers and meters created by this module
const InstrumentationName = "github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS"

// ServiceNamespace groups every governor deployment in the telemetry backend
const ServiceNamespace = "cloud-governance"

var (
	// Tracer for distributed tracing
	Tracer = otel.Tracer(InstrumentationName)

	// PrometheusRegistry backs the daemon's /metrics endpoint
	PrometheusRegistry = promclient.NewRegistry()
)

// Config for telemetry setup
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Region and Partition describe where the governor itself runs
	Region    string
	Partition string

	// Endpoint is the OTLP gRPC collector; empty keeps traces in-process
	// and metrics on the Prometheus endpoint only. A http:// scheme
	// implies Insecure.
	Endpoint string
	Insecure bool

	// SampleRatio of root traces to keep; zero keeps all
	SampleRatio float64

	ExportInterval time.Duration
}

// Providers owns the SDK providers installed by Setup
type Providers struct {
	Traces   *sdktrace.TracerProvider
	Metrics  *sdkmetric.MeterProvider
	Registry *promclient.Registry
}

// Setup installs the global tracer and meter providers. Metrics are always
// exposed for Prometheus scraping and additionally pushed over OTLP when an
// endpoint is configured.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	cfg = cfg.withDefaults()

	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}

	traces, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to setup traces: %w", err)
	}

	registry := promclient.NewRegistry()
	metrics, err := newMeterProvider(ctx, cfg, res, registry)
	if err != nil {
		_ = traces.Shutdown(ctx)
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	otel.SetTracerProvider(traces)
	otel.SetMeterProvider(metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Tracer = traces.Tracer(InstrumentationName)
	PrometheusRegistry = registry

	return &Providers{Traces: traces, Metrics: metrics, Registry: registry}, nil
}

// Shutdown flushes pending spans and metrics
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.Traces.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trace shutdown failed: %w", err))
	}
	if err := p.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metric shutdown failed: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	switch {
	case strings.HasPrefix(c.Endpoint, "http://"):
		c.Endpoint = strings.TrimPrefix(c.Endpoint, "http://")
		c.Insecure = true
	case strings.HasPrefix(c.Endpoint, "https://"):
		c.Endpoint = strings.TrimPrefix(c.Endpoint, "https://")
	}
	if c.ServiceName == "" {
		c.ServiceName = "governor"
	}
	if c.Partition == "" {
		c.Partition = "aws"
	}
	if c.ExportInterval <= 0 {
		c.ExportInterval = 10 * time.Second
	}
	return c
}

func serviceResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceNamespace(ServiceNamespace),
		semconv.CloudProviderAWS,
		attribute.String("cloud.partition", cfg.Partition),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if cfg.Region != "" {
		attrs = append(attrs, semconv.CloudRegion(cfg.Region))
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func dialOptions(cfg Config) []grpc.DialOption {
	if !cfg.Insecure {
		return nil
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if cfg.Endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(dialOptions(cfg)...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource, registry *promclient.Registry) (*sdkmetric.MeterProvider, error) {
	scrape, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(scrape),
	}

	if cfg.Endpoint != "" {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithDialOption(dialOptions(cfg)...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval)),
		))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}
