package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for engine telemetry.
var (
	AttrOperationID = attribute.Key("accord.operation.id")
	AttrReplicas    = attribute.Key("accord.replicas")
	AttrPolicies    = attribute.Key("accord.policies")

	AttrLevel    = attribute.Key("accord.level")
	AttrAccepted = attribute.Key("accord.accepted")

	AttrLedgerDriver = attribute.Key("accord.ledger.driver")
	AttrChainIntact  = attribute.Key("accord.chain.intact")
)

// OperationAttrs creates attributes for an operation submission.
func OperationAttrs(operationID string, replicas, policies int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOperationID.String(operationID),
		AttrReplicas.Int(replicas),
		AttrPolicies.Int(policies),
	}
}

// DecisionAttrs creates attributes for a settled operation.
func DecisionAttrs(level string, accepted bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLevel.String(level),
		AttrAccepted.Bool(accepted),
	}
}

// VerificationAttrs creates attributes for a chain verification pass.
func VerificationAttrs(driver string, intact bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLedgerDriver.String(driver),
		AttrChainIntact.Bool(intact),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
