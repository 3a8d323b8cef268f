// Package observability provides OpenTelemetry tracing and metrics for the
// engine: OTLP export, RED (Rate, Errors, Duration) instruments, and span
// helpers wrapped around every public engine operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC endpoint, e.g. "localhost:4317"
	SampleRate     float64 // 0.0 to 1.0
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "windlass",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// Provider manages the trace and metric providers plus the engine's RED
// instruments. A disabled Provider is a cheap no-op and safe everywhere.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram

	checkoutCounter metric.Int64Counter
	submitCounter   metric.Int64Counter
	guardCounter    metric.Int64Counter
	reclaimCounter  metric.Int64Counter
	droppedCounter  metric.Int64Counter
}

// New creates a provider; with config nil the defaults apply.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("windlass.component", "engine"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("windlass.engine",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("windlass.engine",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.requestCounter, err = p.meter.Int64Counter("windlass.requests.total",
		metric.WithDescription("Total engine operations processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("windlass.errors.total",
		metric.WithDescription("Total engine operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("windlass.operation.duration",
		metric.WithDescription("Engine operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.checkoutCounter, err = p.meter.Int64Counter("windlass.checkouts.total",
		metric.WithDescription("Successful work checkouts"),
		metric.WithUnit("{lease}"),
	)
	if err != nil {
		return err
	}
	p.submitCounter, err = p.meter.Int64Counter("windlass.submits.total",
		metric.WithDescription("Accepted work submissions"),
		metric.WithUnit("{submit}"),
	)
	if err != nil {
		return err
	}
	p.guardCounter, err = p.meter.Int64Counter("windlass.guard.decisions.total",
		metric.WithDescription("Guard routing decisions by action"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}
	p.reclaimCounter, err = p.meter.Int64Counter("windlass.zombies.reclaimed.total",
		metric.WithDescription("Zombie UOWs reclaimed by the sweeper"),
		metric.WithUnit("{uow}"),
	)
	if err != nil {
		return err
	}
	p.droppedCounter, err = p.meter.Int64Counter("windlass.events.dropped.total",
		metric.WithDescription("Events dropped by a backpressured sink"),
		metric.WithUnit("{event}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("windlass.engine")
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("windlass.engine")
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordCheckout counts one successful lease grant.
func (p *Provider) RecordCheckout(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.checkoutCounter != nil {
		p.checkoutCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordSubmit counts one accepted submission.
func (p *Provider) RecordSubmit(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.submitCounter != nil {
		p.submitCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordGuardDecision counts one routing decision.
func (p *Provider) RecordGuardDecision(ctx context.Context, action string, attrs ...attribute.KeyValue) {
	if p.guardCounter != nil {
		all := append(attrs, AttrGuardAction.String(action))
		p.guardCounter.Add(ctx, 1, metric.WithAttributes(all...))
	}
}

// RecordReclaim counts sweeper reclamations.
func (p *Provider) RecordReclaim(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if p.reclaimCounter != nil && n > 0 {
		p.reclaimCounter.Add(ctx, n, metric.WithAttributes(attrs...))
	}
}

// RecordDropped counts events dropped by a sink.
func (p *Provider) RecordDropped(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if p.droppedCounter != nil && n > 0 {
		p.droppedCounter.Add(ctx, n, metric.WithAttributes(attrs...))
	}
}

// TrackOperation wraps one engine operation in a span plus RED metrics.
// The returned func must be called with the operation's final error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if p.durationHist != nil {
			p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				all := append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(all...))
			}
		}
		span.End()
	}
}
