package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/yungbote/threshold-orchestrator/internal/platform/envutil"
	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

// tracingEnv is the OTEL_* surface read at startup.
type tracingEnv struct {
	Enabled     bool
	Endpoint    string
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

const defaultSampleRatio = 0.1

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

func tracingFromEnv() tracingEnv {
	return tracingEnv{
		Enabled:     parseBoolEnv("OTEL_ENABLED", false),
		Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Headers:     parseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		Insecure:    parseBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", false),
		SampleRatio: parseRatio(envutil.String("OTEL_SAMPLER_RATIO", "")),
	}
}

// InitOTel installs the global tracer provider when OTEL_ENABLED is set and returns
// its shutdown func (nil when tracing stays off). Spans started by the
// orchestrators and otelgin flow through it.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		env := tracingFromEnv()
		if !env.Enabled {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "threshold-orchestrator"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		))
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(env.SampleRatio))),
			sdktrace.WithResource(res),
		}
		exporter, err := buildTraceExporter(ctx, env, cfg.Environment)
		switch {
		case err != nil && log != nil:
			log.Warn("otel exporter init failed, spans are dropped", "error", err)
		case exporter != nil:
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		if log != nil {
			log.Info("otel tracing initialized", "service", serviceName, "endpoint", env.Endpoint, "sample_ratio", env.SampleRatio)
		}
	})
	return otelShutdown
}

// buildTraceExporter ships spans over OTLP/HTTP when an endpoint is set and
// falls back to stdout, pretty-printed outside production.
func buildTraceExporter(ctx context.Context, env tracingEnv, environment string) (sdktrace.SpanExporter, error) {
	if env.Endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(env.Endpoint)}
		if env.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if env.Headers != nil {
			opts = append(opts, otlptracehttp.WithHeaders(env.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	var opts []stdouttrace.Option
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "prod", "production":
	default:
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	return stdouttrace.New(opts...)
}

// parseRatio reads a sampling ratio, clamped to [0,1].
func parseRatio(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return defaultSampleRatio
	}
	return min(max(f, 0), 1)
}

// parseHeaders reads "k1=v1,k2=v2", skipping malformed pairs.
func parseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		headers[k] = v
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
