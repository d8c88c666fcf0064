package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// PlanIDKey is the context key for the plan being executed
	PlanIDKey ContextKey = "plan_id"
	// ItemIDKey is the context key for the work item being executed
	ItemIDKey ContextKey = "item_id"
	// RequestIDKey is the context key for routing request ID (for idempotency)
	RequestIDKey ContextKey = "request_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	PlanID    string
	ItemID    string
	RequestID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithPlanID adds a plan ID to the context
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, PlanIDKey, planID)
}

// WithItemID adds a work item ID to the context
func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, ItemIDKey, itemID)
}

// WithRequestID adds a request ID to the context for idempotency
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetPlanID retrieves the plan ID from the context
func GetPlanID(ctx context.Context) string {
	if planID, ok := ctx.Value(PlanIDKey).(string); ok {
		return planID
	}
	return ""
}

// GetItemID retrieves the work item ID from the context
func GetItemID(ctx context.Context) string {
	if itemID, ok := ctx.Value(ItemIDKey).(string); ok {
		return itemID
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		PlanID:    GetPlanID(ctx),
		ItemID:    GetItemID(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// NewPlanContext creates a context for a plan run with a fresh trace ID
func NewPlanContext(ctx context.Context, planID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	return WithPlanID(ctx, planID)
}

// NewItemContext derives a context for one work item. The trace and plan
// IDs are kept from the parent.
func NewItemContext(ctx context.Context, itemID string) context.Context {
	return WithItemID(ctx, itemID)
}
