package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToItem derives the tracing context for one work item. The
// trace ID carries over from the plan; the item ID is set fresh.
func PropagateToItem(ctx context.Context, itemID string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
		ctx = WithTraceID(ctx, traceID)
	}
	return NewItemContext(ctx, itemID)
}

// LoggerWithTrace returns a child logger annotated with whatever tracing
// fields the context carries.
func LoggerWithTrace(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()

	if traceID := GetTraceID(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	if planID := GetPlanID(ctx); planID != "" {
		lc = lc.Str("plan_id", planID)
	}
	if itemID := GetItemID(ctx); itemID != "" {
		lc = lc.Str("item_id", itemID)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		lc = lc.Str("request_id", requestID)
	}

	return lc.Logger()
}
