package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the harvester. A nil *Metrics
// records nothing.
type Metrics struct {
	APIRequests    metric.Int64Counter
	APILatency     metric.Float64Histogram
	QuotaRemaining metric.Int64Gauge

	RecordsFlushed metric.Int64Counter
	Cycles         metric.Int64Counter

	DownstreamRuns metric.Int64Counter
}

// NewMetrics creates all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.APIRequests, err = meter.Int64Counter(
		"harvester.api.requests",
		metric.WithDescription("API requests by endpoint and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating api.requests: %w", err)
	}

	m.APILatency, err = meter.Float64Histogram(
		"harvester.api.latency",
		metric.WithDescription("API request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating api.latency: %w", err)
	}

	m.QuotaRemaining, err = meter.Int64Gauge(
		"harvester.quota.remaining",
		metric.WithDescription("Last quota_remaining reported by the API"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating quota.remaining: %w", err)
	}

	m.RecordsFlushed, err = meter.Int64Counter(
		"harvester.records.flushed",
		metric.WithDescription("Records written to the sinks"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating records.flushed: %w", err)
	}

	m.Cycles, err = meter.Int64Counter(
		"harvester.cycles",
		metric.WithDescription("Ingestion cycles by resulting signal"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cycles: %w", err)
	}

	m.DownstreamRuns, err = meter.Int64Counter(
		"harvester.downstream.runs",
		metric.WithDescription("Downstream step runs by step and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating downstream.runs: %w", err)
	}

	return m, nil
}

// RecordRequest counts one API request and its latency.
func (m *Metrics) RecordRequest(ctx context.Context, endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	m.APIRequests.Add(ctx, 1, attrs)
	m.APILatency.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordQuota stores the latest remaining budget.
func (m *Metrics) RecordQuota(ctx context.Context, remaining int) {
	if m == nil {
		return
	}
	m.QuotaRemaining.Record(ctx, int64(remaining))
}

// RecordFlush counts the records of one successful flush.
func (m *Metrics) RecordFlush(ctx context.Context, tagKey string, questions, answers int) {
	if m == nil {
		return
	}
	tag := attribute.String("tag", tagKey)
	m.RecordsFlushed.Add(ctx, int64(questions), metric.WithAttributes(tag, attribute.String("kind", "question")))
	m.RecordsFlushed.Add(ctx, int64(answers), metric.WithAttributes(tag, attribute.String("kind", "answer")))
}

// RecordCycle counts one finished cycle.
func (m *Metrics) RecordCycle(ctx context.Context, tagKey, signal string) {
	if m == nil {
		return
	}
	m.Cycles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tag", tagKey),
		attribute.String("signal", signal),
	))
}

// RecordStep counts one downstream step run.
func (m *Metrics) RecordStep(ctx context.Context, step string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.DownstreamRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	))
}
