/*
Package tracing gives each dispatched envoy and each admin request a span.

Spans carry a trace ID that follows an envoy from the dispatcher into its
handler through the context, so handler logs can be correlated with the
dispatch outcome. Finished spans are written to the logger by a background
collector; when its buffer is full spans are dropped and counted rather than
blocking the caller.

# Usage

	tracer := tracing.New("envoyd", logger)
	defer tracer.Close()

	span, ctx := tracer.StartSpan(ctx, "dispatch")
	span.SetTag("envoy_id", "42")
	err := handle(ctx)
	span.SetError(err)
	tracer.Finish(span)

Admin requests propagate X-Trace-ID and X-Span-ID headers through
HTTPMiddleware.
*/
package tracing
