package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const exporterDialTimeout = 10 * time.Second

// OTelConfig configures OTLP export of decision spans and decision metrics
type OTelConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SampleRatio    float64 // 0 or >=1 samples every decision

	Traces         bool          // export authz.* spans
	Metrics        bool          // export the memauthz_* instruments
	MetricInterval time.Duration // defaults to 10s
}

// OTelProviders are the installed providers. Either may be nil when its
// signal is not exported.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider

	logger *Logger
}

// InitOTel dials the collector for each enabled signal and installs the
// providers globally. It returns nil providers when export is disabled.
func InitOTel(ctx context.Context, cfg OTelConfig, logger *Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = NopLogger()
	}
	if !cfg.Enabled {
		logger.Info("OpenTelemetry is disabled")
		return nil, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("OpenTelemetry endpoint is required when enabled")
	}
	if !cfg.Traces && !cfg.Metrics {
		return nil, errors.New("OpenTelemetry is enabled but exports neither traces nor metrics")
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var dialOpts []grpc.DialOption
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialCtx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	p := &OTelProviders{logger: logger}
	if cfg.Traces {
		exporter, err := otlptracegrpc.New(dialCtx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(dialOpts...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		p.TracerProvider = newTracerProvider(res, sdktrace.NewBatchSpanProcessor(exporter), cfg.SampleRatio)
	}
	if cfg.Metrics {
		exporter, err := otlpmetricgrpc.New(dialCtx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithDialOption(dialOpts...),
		)
		if err != nil {
			if shutdownErr := p.Shutdown(ctx); shutdownErr != nil {
				logger.WithError(shutdownErr).Error("Failed to stop trace export after metric exporter error")
			}
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		p.MeterProvider = newMeterProvider(res, metric.NewPeriodicReader(exporter, metric.WithInterval(metricInterval(cfg))))
	}

	p.install()
	logger.WithFields(map[string]interface{}{
		"endpoint": cfg.Endpoint,
		"traces":   cfg.Traces,
		"metrics":  cfg.Metrics,
	}).Info("OpenTelemetry export started")
	return p, nil
}

func serviceResource(ctx context.Context, cfg OTelConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "memauthz"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// decisionSampler samples whole decisions: a child span follows its parent
func decisionSampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

func metricInterval(cfg OTelConfig) time.Duration {
	if cfg.MetricInterval > 0 {
		return cfg.MetricInterval
	}
	return 10 * time.Second
}

func newTracerProvider(res *resource.Resource, processor sdktrace.SpanProcessor, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(decisionSampler(ratio)),
	)
}

func newMeterProvider(res *resource.Resource, reader metric.Reader) *metric.MeterProvider {
	return metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
}

func (p *OTelProviders) install() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Shutdown flushes pending spans and metrics. A nil receiver is a no-op.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	logger := p.logger
	if logger == nil {
		logger = NopLogger()
	}

	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.WithError(err).Error("OpenTelemetry shutdown failed")
		return err
	}
	logger.Info("OpenTelemetry shutdown complete")
	return nil
}

// TraceLogger adds the trace and span IDs of the recording span in ctx to logger
func TraceLogger(ctx context.Context, logger *Logger) *Logger {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return logger
	}

	spanCtx := span.SpanContext()
	return logger.WithFields(map[string]interface{}{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	})
}
