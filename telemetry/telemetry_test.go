package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

func TestOTELHook_Run(t *testing.T) {
	tests := []struct {
		name        string
		setupCtx    func() context.Context
		expectTrace bool
	}{
		{
			name:        "no context",
			setupCtx:    func() context.Context { return nil },
			expectTrace: false,
		},
		{
			name:        "context without span",
			setupCtx:    context.Background,
			expectTrace: false,
		},
		{
			name:        "context with valid span",
			setupCtx:    createContextWithSpan,
			expectTrace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			event := logger.Info().Ctx(tt.setupCtx())
			OTELHook{}.Run(event, zerolog.InfoLevel, "test message")
			event.Msg("test")

			if tt.expectTrace {
				assert.Contains(t, buf.String(), "trace_id")
				assert.Contains(t, buf.String(), "span_id")
			} else {
				assert.NotContains(t, buf.String(), "trace_id")
				assert.NotContains(t, buf.String(), "span_id")
			}
		})
	}
}

func createContextWithSpan() context.Context {
	provider := trace.NewTracerProvider(trace.WithSyncer(tracetest.NewInMemoryExporter()))
	ctx, _ := provider.Tracer("test").Start(context.Background(), "test-span")
	return ctx
}

func TestOTELHook_ErrorLevel(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	ctx, span := provider.Tracer("test").Start(context.Background(), "test-span")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	event := logger.Error().Ctx(ctx)
	OTELHook{}.Run(event, zerolog.ErrorLevel, "error message")
	event.Msg("test error")

	span.End()
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "error message", spans[0].Status.Description)
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "test-service")

	logger.Info().Msg("test message")

	assert.Contains(t, buf.String(), `"service":"test-service"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestSetOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	NewLogger("redirected").Info().Msg("hello")

	assert.Contains(t, buf.String(), "redirected")
}

func TestLogger_LogSpanEnd(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expectError bool
	}{
		{name: "successful span"},
		{name: "failed span", err: assert.AnError, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := &Logger{Logger: zerolog.New(&buf)}

			logger.LogSpanEnd(context.Background(), "test-span", tt.err)

			assert.Contains(t, buf.String(), "test-span")
			if tt.expectError {
				assert.Contains(t, buf.String(), "span failed")
				assert.Contains(t, buf.String(), `level":"error`)
			} else {
				assert.Contains(t, buf.String(), "span completed")
				assert.Contains(t, buf.String(), `level":"debug`)
			}
		})
	}
}

func TestAddAttributeToEvent(t *testing.T) {
	tests := []struct {
		name     string
		attr     attribute.KeyValue
		expected string
	}{
		{"string attribute", attribute.String("key", "value"), `"key":"value"`},
		{"int64 attribute", attribute.Int64("count", 42), `"count":42`},
		{"float64 attribute", attribute.Float64("rate", 3.14), `"rate":3.14`},
		{"bool attribute", attribute.Bool("enabled", true), `"enabled":true`},
		{"int attribute", attribute.Int("size", 100), `"size":100`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			addAttributeToEvent(logger.Info(), tt.attr).Msg("test")

			assert.Contains(t, buf.String(), tt.expected)
		})
	}
}

func TestLogger_PipelineHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	ev := types.ComplianceEvent{
		AccountID:      "111111111111",
		Region:         "us-east-1",
		ResourceType:   "AWS::S3::Bucket",
		ResourceID:     "my-bucket",
		RuleName:       "s3-bucket-public-read-prohibited",
		ComplianceType: types.NonCompliant,
		OccurredAt:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}

	logger.LogDecision(ctx, ev, types.Decision{Severity: types.SeverityLow, Route: types.RouteRemediate, Reason: "low severity"})
	assert.Contains(t, buf.String(), "event classified")
	assert.Contains(t, buf.String(), `"account_id":"111111111111"`)
	assert.Contains(t, buf.String(), `"route":"remediate"`)

	buf.Reset()
	logger.LogRemediation(ctx, ev, types.RemediationOutcome{
		Status: types.OutcomeFailed,
		Action: "block-s3-public-access",
		Err:    errors.New("throttled"),
	})
	assert.Contains(t, buf.String(), "remediation finished")
	assert.Contains(t, buf.String(), `"outcome":"FAILED"`)
	assert.Contains(t, buf.String(), `level":"warn`)
	assert.Contains(t, buf.String(), "throttled")

	buf.Reset()
	logger.LogDuplicate(ctx, ev.Key())
	assert.Contains(t, buf.String(), "111111111111#my-bucket")

	buf.Reset()
	logger.LogNotificationFailure(ctx, ev, assert.AnError)
	assert.Contains(t, buf.String(), "notification delivery failed")

	buf.Reset()
	logger.LogStorageError(ctx, "ledger_put", assert.AnError)
	assert.Contains(t, buf.String(), "storage operation failed")
	assert.Contains(t, buf.String(), "ledger_put")
}

func TestSetup_WithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	providers, err := Setup(ctx, Config{ServiceName: "governor-test"})
	require.NoError(t, err)
	assert.Same(t, providers.Registry, PrometheusRegistry)

	counter, err := otel.Meter("governor").Int64Counter("governor.events.processed")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	families, err := PrometheusRegistry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "governor_events_processed_total")

	assert.NoError(t, providers.Shutdown(ctx))
}

func TestSetup_WithEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	providers, err := Setup(ctx, Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		Endpoint:       "http://localhost:4317",
	})
	require.NoError(t, err)

	// no collector is listening, so a flush error on shutdown is expected
	_ = providers.Shutdown(context.Background())
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := Config{}.withDefaults()
	assert.Equal(t, "governor", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.Equal(t, "aws", cfg.Partition)
	assert.Equal(t, 10*time.Second, cfg.ExportInterval)
	assert.False(t, cfg.Insecure)

	cfg = Config{Endpoint: "http://otel-collector:4317"}.withDefaults()
	assert.Equal(t, "otel-collector:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)

	cfg = Config{Endpoint: "https://otel.example.com:4317"}.withDefaults()
	assert.Equal(t, "otel.example.com:4317", cfg.Endpoint)
	assert.False(t, cfg.Insecure)
}

func TestServiceResource(t *testing.T) {
	res, err := serviceResource(Config{
		ServiceName:    "governor",
		ServiceVersion: "1.2.0",
		Environment:    "prod",
		Region:         "us-gov-west-1",
		Partition:      "aws-us-gov",
	})
	require.NoError(t, err)

	attrs := make(map[string]string)
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "governor", attrs["service.name"])
	assert.Equal(t, ServiceNamespace, attrs["service.namespace"])
	assert.Equal(t, "1.2.0", attrs["service.version"])
	assert.Equal(t, "prod", attrs["deployment.environment"])
	assert.Equal(t, "aws", attrs["cloud.provider"])
	assert.Equal(t, "us-gov-west-1", attrs["cloud.region"])
	assert.Equal(t, "aws-us-gov", attrs["cloud.partition"])
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
