package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/erain9/pairflow/pkg/otel"

var (
	strategyMetrics     *StrategyMetrics
	strategyMetricsOnce sync.Once
)

// StrategyMetrics holds the metric instruments for the quoting engine
type StrategyMetrics struct {
	quotesPlaced    metric.Int64Counter
	quotesModified  metric.Int64Counter
	quotesCancelled metric.Int64Counter
	passiveFills    metric.Int64Counter
	coveringOrders  metric.Int64Counter
	stopLossEscal   metric.Int64Counter
	quoteLatency    metric.Float64Histogram
}

// GetStrategyMetrics returns the StrategyMetrics singleton. Instruments
// that fail to build are left nil and recording becomes a no-op.
func GetStrategyMetrics() *StrategyMetrics {
	strategyMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(instrumentationName)
		m := &StrategyMetrics{}

		m.quotesPlaced, _ = meter.Int64Counter(
			"strategy.quotes.placed.total",
			metric.WithDescription("Total passive quotes placed"),
			metric.WithUnit("{order}"),
		)
		m.quotesModified, _ = meter.Int64Counter(
			"strategy.quotes.modified.total",
			metric.WithDescription("Total in-place quote modifications"),
			metric.WithUnit("{order}"),
		)
		m.quotesCancelled, _ = meter.Int64Counter(
			"strategy.quotes.cancelled.total",
			metric.WithDescription("Total quote cancellations"),
			metric.WithUnit("{order}"),
		)
		m.passiveFills, _ = meter.Int64Counter(
			"strategy.fills.passive.total",
			metric.WithDescription("Total passive leg fills"),
			metric.WithUnit("{fill}"),
		)
		m.coveringOrders, _ = meter.Int64Counter(
			"strategy.orders.covering.total",
			metric.WithDescription("Total aggressive covering orders issued"),
			metric.WithUnit("{order}"),
		)
		m.stopLossEscal, _ = meter.Int64Counter(
			"strategy.stoploss.escalations.total",
			metric.WithDescription("Total stop-loss escalations to deeply-aggressive"),
			metric.WithUnit("{order}"),
		)
		m.quoteLatency, _ = meter.Float64Histogram(
			"strategy.quote_cycle.duration",
			metric.WithDescription("DoQuotes cycle duration in seconds"),
			metric.WithUnit("s"),
		)

		strategyMetrics = m
	})
	return strategyMetrics
}

func pairAttrs(pairID int) metric.MeasurementOption {
	return metric.WithAttributes(attribute.Int("pair.id", pairID))
}

// RecordQuotePlaced increments the placed-quote counter
func (m *StrategyMetrics) RecordQuotePlaced(ctx context.Context, pairID int) {
	if m.quotesPlaced != nil {
		m.quotesPlaced.Add(ctx, 1, pairAttrs(pairID))
	}
}

// RecordQuoteModified increments the modified-quote counter
func (m *StrategyMetrics) RecordQuoteModified(ctx context.Context, pairID int) {
	if m.quotesModified != nil {
		m.quotesModified.Add(ctx, 1, pairAttrs(pairID))
	}
}

// RecordQuoteCancelled increments the cancelled-quote counter
func (m *StrategyMetrics) RecordQuoteCancelled(ctx context.Context, pairID int) {
	if m.quotesCancelled != nil {
		m.quotesCancelled.Add(ctx, 1, pairAttrs(pairID))
	}
}

// RecordPassiveFill increments the passive-fill counter
func (m *StrategyMetrics) RecordPassiveFill(ctx context.Context, pairID int) {
	if m.passiveFills != nil {
		m.passiveFills.Add(ctx, 1, pairAttrs(pairID))
	}
}

// RecordCoveringOrder increments the covering-order counter
func (m *StrategyMetrics) RecordCoveringOrder(ctx context.Context, pairID int) {
	if m.coveringOrders != nil {
		m.coveringOrders.Add(ctx, 1, pairAttrs(pairID))
	}
}

// RecordStopLossEscalation increments the escalation counter
func (m *StrategyMetrics) RecordStopLossEscalation(ctx context.Context, pairID int) {
	if m.stopLossEscal != nil {
		m.stopLossEscal.Add(ctx, 1, pairAttrs(pairID))
	}
}

// RecordQuoteCycle records one DoQuotes cycle duration
func (m *StrategyMetrics) RecordQuoteCycle(ctx context.Context, pairID int, seconds float64) {
	if m.quoteLatency != nil {
		m.quoteLatency.Record(ctx, seconds, pairAttrs(pairID))
	}
}
