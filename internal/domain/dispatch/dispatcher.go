package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/shared/id"
)

// Results reported to the Recorder.
const (
	ResultHandled      = "handled"
	ResultFailed       = "failed"
	ResultShed         = "shed"
	ResultReplied      = "replied"
	ResultReplyDropped = "reply_dropped"
)

// Handler processes one inbound envoy. A non-empty reply is sent back under
// the same id.
type Handler func(ctx context.Context, msg envoy.Message) (reply string, err error)

// Echo replies with the payload it was given.
func Echo(_ context.Context, msg envoy.Message) (string, error) {
	return msg.Payload, nil
}

// Discard consumes the envoy without replying.
func Discard(context.Context, envoy.Message) (string, error) {
	return "", nil
}

// HandlerByName resolves a configured handler name. Unknown names get Discard.
func HandlerByName(name string) Handler {
	if name == "echo" {
		return Echo
	}
	return Discard
}

// Endpoint is the managed side of a bridge.
type Endpoint interface {
	Receive() (envoy.Message, bool)
	Send(id uint32, payload string) error
}

// Recorder receives one call per dispatch outcome.
type Recorder interface {
	RecordDispatch(result string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordDispatch(string, time.Duration) {}

// Config tunes the worker pool.
type Config struct {
	Workers         int
	IdleInterval    time.Duration
	RatePerSecond   float64 // 0 disables pacing
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		IdleInterval:    5 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRecorder sets the outcome recorder (usually *monitoring.Metrics).
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithTracer opens a span per handled envoy. The handler's context carries
// the trace.
func WithTracer(t *tracing.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// Dispatcher runs handlers for inbound envoys.
type Dispatcher struct {
	endpoint Endpoint
	handler  Handler
	cfg      Config
	breaker  *resilience.Breaker
	limiter  *rate.Limiter
	logger   *logging.Logger
	recorder Recorder
	tracer   *tracing.Tracer

	running      atomic.Bool
	handled      atomic.Uint64
	failed       atomic.Uint64
	shed         atomic.Uint64
	replied      atomic.Uint64
	replyDropped atomic.Uint64
}

// New creates a dispatcher. Zero fields in cfg take their defaults.
func New(endpoint Endpoint, handler Handler, cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	d := &Dispatcher{
		endpoint: endpoint,
		handler:  handler,
		cfg:      cfg,
		logger:   logging.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatch")

	failures := cfg.BreakerFailures
	d.breaker = resilience.New("dispatch", resilience.Settings{
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			d.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return d
}

// Run blocks until ctx is cancelled. It returns nil on cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("dispatcher already running")
	}
	defer d.running.Store(false)

	d.logger.Info("Dispatcher starting", zap.Int("workers", d.cfg.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		wid := id.NewWorkerID()
		g.Go(func() error {
			return d.work(gctx, wid)
		})
	}
	err := g.Wait()

	d.logger.Info("Dispatcher stopped",
		zap.Uint64("handled", d.handled.Load()),
		zap.Uint64("failed", d.failed.Load()),
		zap.Uint64("shed", d.shed.Load()),
	)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context, wid id.WorkerID) error {
	log := d.logger.With(zap.String("worker_id", wid.String()))
	log.Debug("Worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, ok := d.endpoint.Receive()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.IdleInterval):
			}
			continue
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				d.shed.Add(1)
				d.recorder.RecordDispatch(ResultShed, 0)
				log.Warn("Envoy shed while pacing", zap.Uint32("envoy_id", msg.ID), zap.Error(err))
				continue
			}
		}
		d.handle(ctx, log, msg)
	}
}

// HandleOne processes a single message synchronously. It reports whether a
// message was available.
func (d *Dispatcher) HandleOne(ctx context.Context) bool {
	msg, ok := d.endpoint.Receive()
	if !ok {
		return false
	}
	d.handle(ctx, d.logger, msg)
	return true
}

func (d *Dispatcher) handle(ctx context.Context, log *logging.Logger, msg envoy.Message) {
	if d.tracer == nil {
		d.process(ctx, log, msg)
		return
	}
	span, ctx := d.tracer.StartSpan(ctx, "dispatch")
	span.SetTag("envoy_id", strconv.FormatUint(uint64(msg.ID), 10))
	result, err := d.process(ctx, log, msg)
	span.SetTag("result", result)
	span.SetError(err)
	d.tracer.Finish(span)
}

// process runs the handler and posts its reply. It returns the final
// result and the handler or send error, if any.
func (d *Dispatcher) process(ctx context.Context, log *logging.Logger, msg envoy.Message) (string, error) {
	start := time.Now()
	var reply string
	err := d.breaker.Do(func() error {
		return envoy.Contain("dispatch", func() error {
			r, err := d.handler(ctx, msg)
			reply = r
			return err
		})
	})
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		d.shed.Add(1)
		d.recorder.RecordDispatch(ResultShed, 0)
		log.Debug("Envoy shed", zap.Uint32("envoy_id", msg.ID), zap.Error(err))
		return ResultShed, err
	case err != nil:
		d.failed.Add(1)
		d.recorder.RecordDispatch(ResultFailed, elapsed)
		log.Warn("Handler failed", zap.Uint32("envoy_id", msg.ID), zap.Error(err))
		return ResultFailed, err
	}

	d.handled.Add(1)
	d.recorder.RecordDispatch(ResultHandled, elapsed)
	if reply == "" {
		return ResultHandled, nil
	}
	if err := d.endpoint.Send(msg.ID, reply); err != nil {
		d.replyDropped.Add(1)
		d.recorder.RecordDispatch(ResultReplyDropped, 0)
		log.Warn("Reply dropped", zap.Uint32("envoy_id", msg.ID), zap.Error(err))
		return ResultReplyDropped, err
	}
	d.replied.Add(1)
	d.recorder.RecordDispatch(ResultReplied, 0)
	return ResultReplied, nil
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Workers      int    `json:"workers"`
	Running      bool   `json:"running"`
	Breaker      string `json:"breaker"`
	Handled      uint64 `json:"handled"`
	Failed       uint64 `json:"failed"`
	Shed         uint64 `json:"shed"`
	Replied      uint64 `json:"replied"`
	ReplyDropped uint64 `json:"reply_dropped"`
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:      d.cfg.Workers,
		Running:      d.running.Load(),
		Breaker:      d.breaker.State().String(),
		Handled:      d.handled.Load(),
		Failed:       d.failed.Load(),
		Shed:         d.shed.Load(),
		Replied:      d.replied.Load(),
		ReplyDropped: d.replyDropped.Load(),
	}
}
