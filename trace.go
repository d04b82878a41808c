package conjcache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const attrEntityType = attribute.Key("conjcache.entity_type")

func (inv *invalidator) start(ctx context.Context, name, entityType string) (context.Context, trace.Span) {
	if entityType == "" {
		return inv.tracer.Start(ctx, name)
	}
	return inv.tracer.Start(ctx, name, trace.WithAttributes(attrEntityType.String(entityType)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
