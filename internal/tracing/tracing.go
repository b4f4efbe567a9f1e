// Package tracing wraps OpenTelemetry span creation behind one Manager with
// an exporter switch (otlp/jaeger/none), so the rest of Quern never imports
// the otel SDK directly. Disabled by default: most local debugging sessions
// never need distributed traces, but long-poll waits and proxy round-trips
// are exactly the kind of thing a trace makes easy to see once you do.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing runs at all and where spans go.
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Exporter string        `yaml:"exporter"` // "otlp", "jaeger", "none"
	Endpoint string        `yaml:"endpoint"`
	Sample   float64       `yaml:"sample_rate"`
	Batch    time.Duration `yaml:"batch_timeout"`
}

// DefaultConfig matches the daemon's own "off unless asked" stance for
// optional observability layers.
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Exporter: "otlp",
		Endpoint: "http://localhost:4318/v1/traces",
		Sample:   1.0,
		Batch:    5 * time.Second,
	}
}

// Manager owns the tracer provider. When disabled, GetTracer returns a noop
// tracer so call sites never need an Enabled check of their own.
type Manager struct {
	cfg      Config
	log      *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// New builds a Manager. A disabled config or "none" exporter both yield a
// noop tracer rather than an error, since tracing is an ambient concern the
// daemon should degrade out of quietly.
func New(cfg Config, log *logrus.Logger) (*Manager, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return &Manager{cfg: cfg, log: log, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{cfg: cfg, log: log}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("quern")),
	)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithBatchTimeout(m.cfg.Batch)),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.cfg.Sample)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	m.tracer = otel.Tracer("quern")

	m.log.WithFields(logrus.Fields{"exporter": m.cfg.Exporter, "endpoint": m.cfg.Endpoint}).
		Info("tracing initialized")
	return nil
}

func (m *Manager) createExporter() (trace.SpanExporter, error) {
	switch m.cfg.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.cfg.Endpoint)))
	case "otlp":
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(m.cfg.Endpoint),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", m.cfg.Exporter)
	}
}

// GetTracer returns the tracer spans should start from.
func (m *Manager) GetTracer() oteltrace.Tracer {
	return m.tracer
}

// Shutdown flushes and stops the tracer provider. A no-op when tracing was
// never enabled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Handler wraps next in a span per request named operationName, propagating
// any inbound trace context and injecting the resulting one into the
// response headers.
func Handler(tracer oteltrace.Tracer, operationName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, operationName)
			defer span.End()

			span.SetAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
				semconv.UserAgentOriginal(r.UserAgent()),
			)
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSpanError records err on the span active in ctx, if any.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// IDs extracts the trace and span IDs from ctx's active span, empty if
// there isn't a valid one (tracing disabled, or outside any span).
func IDs(ctx context.Context) (traceID, spanID string) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return "", ""
	}
	return span.SpanContext().TraceID().String(), span.SpanContext().SpanID().String()
}

// Annotate stamps entry.Labels with trace_id/span_id from ctx, if any, so a
// log line emitted mid-request can be correlated back to its trace.
func Annotate(ctx context.Context, labels map[string]string) map[string]string {
	traceID, spanID := IDs(ctx)
	if traceID == "" {
		return labels
	}
	if labels == nil {
		labels = make(map[string]string, 2)
	}
	labels["trace_id"] = traceID
	labels["span_id"] = spanID
	return labels
}
