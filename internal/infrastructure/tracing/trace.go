package tracing

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/shared/id"
)

// Propagation headers
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

const spanBuffer = 1024

// Span represents a single traced operation
type Span struct {
	TraceID   id.TraceID
	SpanID    id.SpanID
	ParentID  id.SpanID
	Name      string
	Service   string
	StartTime time.Time
	Duration  time.Duration
	Tags      map[string]string
	Err       error
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records err on the span; nil is ignored
func (s *Span) SetError(err error) {
	if err != nil {
		s.Err = err
	}
}

// Tracer collects finished spans and writes them to a logger
type Tracer struct {
	service string
	logger  *logging.Logger
	spans   chan *Span
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a tracer and starts its collector
func New(service string, logger *logging.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

type contextKey int

const (
	traceIDKey contextKey = iota
	spanIDKey
)

// FromContext returns the trace and span carried by ctx
func FromContext(ctx context.Context) (id.TraceID, id.SpanID) {
	traceID, _ := ctx.Value(traceIDKey).(id.TraceID)
	spanID, _ := ctx.Value(spanIDKey).(id.SpanID)
	return traceID, spanID
}

// ContextWith returns ctx carrying the given trace and parent span
func ContextWith(ctx context.Context, traceID id.TraceID, spanID id.SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}

// StartSpan opens a span that joins the trace in ctx, or starts a new one
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID, parentID := FromContext(ctx)
	if traceID == "" {
		traceID = id.NewTraceID()
	}

	span := &Span{
		TraceID:   traceID,
		SpanID:    id.NewSpanID(),
		ParentID:  parentID,
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}
	return span, ContextWith(ctx, traceID, span.SpanID)
}

// Finish stamps the duration and hands the span to the collector
func (t *Tracer) Finish(span *Span) {
	span.Duration = time.Since(span.StartTime)

	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.spans <- span:
	default:
		t.dropped.Add(1)
	}
}

// Dropped returns how many spans were discarded because the buffer was full
func (t *Tracer) Dropped() uint64 {
	return t.dropped.Load()
}

// Close stops accepting spans and flushes the ones already queued
func (t *Tracer) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}

func (t *Tracer) collect() {
	for {
		select {
		case span := <-t.spans:
			t.write(span)
		case <-t.done:
			for {
				select {
				case span := <-t.spans:
					t.write(span)
				default:
					if n := t.dropped.Load(); n > 0 {
						t.logger.Warn("Spans dropped", zap.Uint64("count", n))
					}
					return
				}
			}
		}
	}
}

func (t *Tracer) write(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", span.TraceID.String()),
		zap.String("span_id", span.SpanID.String()),
		zap.String("operation", span.Name),
		zap.String("service", span.Service),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", span.ParentID.String()))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}
	if span.Err != nil {
		t.logger.Warn("Span completed with error", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Debug("Span completed", fields...)
}

// Extract reads trace context from request headers
func Extract(h http.Header) (id.TraceID, id.SpanID) {
	return id.TraceID(h.Get(TraceHeader)), id.SpanID(h.Get(SpanHeader))
}

// Inject writes the trace context of ctx into h
func Inject(ctx context.Context, h http.Header) {
	traceID, spanID := FromContext(ctx)
	if traceID != "" {
		h.Set(TraceHeader, traceID.String())
	}
	if spanID != "" {
		h.Set(SpanHeader, spanID.String())
	}
}
