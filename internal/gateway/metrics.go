package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/strata/internal/gateway"

// Metrics holds the gateway's instruments: call duration, batch size, queue
// wait at the admission gate, and error counts, all labeled by operation.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	queueWait metric.Float64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates gateway instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"strata.gateway.call_duration_seconds",
		metric.WithDescription("Duration of model provider calls by operation (embed_documents, embed_query, summarize, rerank)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"strata.gateway.batch_size",
		metric.WithDescription("Items per model call. Useful for tuning embedding batch sizes."),
		metric.WithUnit("{item}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.queueWait, err = m.meter.Float64Histogram(
		"strata.gateway.queue_wait_seconds",
		metric.WithDescription("Time spent queued at the per-capability admission gate before a call slot opened."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create queue wait histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"strata.gateway.errors_total",
		metric.WithDescription("Model call errors by operation, after retries."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordCall records one completed provider call.
func (m *Metrics) RecordCall(ctx context.Context, operation string, duration time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordQueueWait records time spent waiting at a capability gate.
func (m *Metrics) RecordQueueWait(ctx context.Context, capability string, wait time.Duration) {
	if m.queueWait != nil {
		m.queueWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("capability", capability)))
	}
}
