package dispatch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/followup/internal/followup"
)

// Traced wraps each dispatch in a span named "followup.dispatch".
func Traced(tracer trace.Tracer) Middleware {
	return func(next followup.DispatchFunc) followup.DispatchFunc {
		return func(ctx context.Context, run followup.FollowupRun) error {
			attrs := []attribute.KeyValue{
				attribute.String("followup.session_key", SessionKey(run)),
				attribute.String("followup.channel", run.Routing.Channel),
				attribute.Int("followup.item_count", run.ItemCount),
			}
			if run.Run != nil && run.Run.AgentID != "" {
				attrs = append(attrs, attribute.String("followup.agent_id", run.Run.AgentID))
			}
			ctx, span := tracer.Start(ctx, "followup.dispatch", trace.WithAttributes(attrs...))
			defer span.End()

			err := next(ctx, run)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
