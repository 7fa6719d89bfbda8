package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "evermind"

// Metrics holds all Evermind metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	TokensIn       metric.Int64Counter
	TokensOut      metric.Int64Counter
	ChunkFanouts   metric.Int64Counter
	TurnDuration   metric.Float64Histogram
	RecallDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("evermind.turns.started",
		metric.WithDescription("Number of turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("evermind.turns.completed",
		metric.WithDescription("Number of turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("evermind.turns.failed",
		metric.WithDescription("Number of turns failed"))
	if err != nil {
		return nil, err
	}

	m.TokensIn, err = meter.Int64Counter("evermind.tokens.in",
		metric.WithDescription("Prompt tokens consumed"))
	if err != nil {
		return nil, err
	}

	m.TokensOut, err = meter.Int64Counter("evermind.tokens.out",
		metric.WithDescription("Completion tokens produced"))
	if err != nil {
		return nil, err
	}

	m.ChunkFanouts, err = meter.Int64Counter("evermind.overflow.fanouts",
		metric.WithDescription("Number of chunked summarization fan-outs"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("evermind.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.RecallDuration, err = meter.Float64Histogram("evermind.recall.duration_seconds",
		metric.WithDescription("Memory recall duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
