// Package telemetry wraps OpenTelemetry tracing around each service's
// end-of-data decision, grounded on the teacher's request-span provider
// (internal/telemetry/otel.go) and adapted from per-HTTP-request spans to
// per-adaptation-decision spans. No-op by default — spec.md's Non-goals
// exclude metrics/response scanning as FEATURES, but tracing remains part
// of the ambient stack regardless.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Enabled     bool
	Exporter    string // "otlp", "stdout", or "none"
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Provider manages OpenTelemetry tracing for one service process.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "polis"
	}
	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	slog.Info("telemetry: creating exporter", "type", cfg.Exporter)

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("telemetry: OTLP exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		slog.Info("telemetry: stdout trace exporter initialized")
	default:
		return &Provider{config: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{config: cfg, tracer: tp.Tracer(cfg.ServiceName), provider: tp}, nil
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func NoopProvider() *Provider {
	return &Provider{config: Config{Enabled: false}, tracer: otel.Tracer("polis-noop")}
}

func (p *Provider) Enabled() bool { return p.config.Enabled && p.provider != nil }

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

const (
	AttrHost       = "polis.request.host"
	AttrVerdict    = "polis.verdict.allow"
	AttrReason     = "polis.verdict.reason"
	AttrBodyBytes  = "polis.body.bytes"
	AttrRewritten  = "polis.ott.rewritten"
	AttrDecisionOp = "polis.decision.kind" // "dlp" or "ott"
)

// StartDecisionSpan starts a span around one end-of-data policy decision.
func (p *Provider) StartDecisionSpan(ctx context.Context, kind, host string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "polis.decision",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrDecisionOp, kind),
			attribute.String(AttrHost, host),
		),
	)
}

// EndDLPDecisionSpan records the DLP verdict and ends the span.
func (p *Provider) EndDLPDecisionSpan(span trace.Span, allow bool, reason string, bodyBytes int64) {
	span.SetAttributes(
		attribute.Bool(AttrVerdict, allow),
		attribute.String(AttrReason, reason),
		attribute.Int64(AttrBodyBytes, bodyBytes),
	)
	span.End()
}

// EndOTTDecisionSpan records the OTT outcome and ends the span.
func (p *Provider) EndOTTDecisionSpan(span trace.Span, rewritten bool, bodyBytes int64, err error) {
	span.SetAttributes(
		attribute.Bool(AttrRewritten, rewritten),
		attribute.Int64(AttrBodyBytes, bodyBytes),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
