package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "evermind"

// StartTurnSpan starts a span for one conversation turn.
func StartTurnSpan(ctx context.Context, conversationID, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
}

// StartRecallSpan starts a span for memory retrieval within a turn.
func StartRecallSpan(ctx context.Context, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "recall",
		trace.WithAttributes(
			attribute.String("user.id", userID),
		),
	)
}

// StartOverflowSpan starts a span for one overflow-controller pass.
func StartOverflowSpan(ctx context.Context, path string, chunks int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "overflow",
		trace.WithAttributes(
			attribute.String("overflow.path", path),
			attribute.Int("overflow.chunks", chunks),
		),
	)
}
