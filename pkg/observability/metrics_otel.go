package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments
type OTelMetrics struct {
	decisionsTotal      metric.Int64Counter
	decisionDuration    metric.Float64Histogram
	dataSourceErrors    metric.Int64Counter
	configurationErrors metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/memauthz")

	m := &OTelMetrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"authz.decisions",
		metric.WithDescription("Total number of access decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.decisionDuration, err = meter.Float64Histogram(
		"authz.decision.duration",
		metric.WithDescription("Access decision duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision duration histogram: %w", err)
	}

	m.dataSourceErrors, err = meter.Int64Counter(
		"authz.datasource.errors",
		metric.WithDescription("Total number of data source failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create datasource errors counter: %w", err)
	}

	m.configurationErrors, err = meter.Int64Counter(
		"authz.configuration.errors",
		metric.WithDescription("Total number of configuration errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create configuration errors counter: %w", err)
	}

	return m, nil
}

// RecordDecision records a decision and its latency
func (m *OTelMetrics) RecordDecision(ctx context.Context, allowed bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.Bool("authz.allowed", allowed),
		attribute.String("authz.reason", reason),
	)
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.decisionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDataSourceError records a failed data source call
func (m *OTelMetrics) RecordDataSourceError(ctx context.Context, operation string) {
	m.dataSourceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("authz.operation", operation)))
}

// RecordConfigurationError records a configuration error
func (m *OTelMetrics) RecordConfigurationError(ctx context.Context, kind string) {
	m.configurationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("authz.error_kind", kind)))
}
