// Engine-specific semantic convention attributes.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrUOWID       = attribute.Key("windlass.uow.id")
	AttrInstanceID  = attribute.Key("windlass.instance.id")
	AttrActorID     = attribute.Key("windlass.actor.id")
	AttrRoleID      = attribute.Key("windlass.role.id")
	AttrStatus      = attribute.Key("windlass.uow.status")
	AttrGuardType   = attribute.Key("windlass.guard.type")
	AttrGuardAction = attribute.Key("windlass.guard.action")
	AttrEventType   = attribute.Key("windlass.event.type")
	AttrSinkKind    = attribute.Key("windlass.sink.kind")
)

// UOWOperation builds attributes for one UOW-scoped operation.
func UOWOperation(uowID, instanceID, actorID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrUOWID.String(uowID),
		AttrInstanceID.String(instanceID),
		AttrActorID.String(actorID),
	}
}

// GuardOperation builds attributes for one guard evaluation.
func GuardOperation(uowID, guardType, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrUOWID.String(uowID),
		AttrGuardType.String(guardType),
		AttrGuardAction.String(action),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
