package native

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/securemem"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/server"
)

// ConfigLoader produces the configuration used on first establishment.
type ConfigLoader func() (*config.Config, error)

// Library owns the bridge and its collaborators for the life of the process.
type Library struct {
	alloc      envoy.Allocator
	loadConfig ConfigLoader

	mu         sync.Mutex
	bridge     atomic.Pointer[envoy.Bridge]
	logger     atomic.Pointer[logging.Logger]
	admin      *server.Server
	dispatcher *dispatch.Dispatcher
	stop       context.CancelFunc
	stopped    chan struct{}
}

// New creates an unestablished library. alloc provides caller-owned buffers
// unless the configuration asks for secure memory.
func New(alloc envoy.Allocator, loadConfig ConfigLoader) *Library {
	if loadConfig == nil {
		loadConfig = config.Load
	}
	l := &Library{alloc: alloc, loadConfig: loadConfig}
	l.logger.Store(logging.NewDefault())
	return l
}

func (l *Library) log() *logging.Logger {
	return l.logger.Load()
}

// Establish builds the bridge from configuration on first use and publishes
// its registry. Later calls report AlreadyInitialized.
func (l *Library) Establish() (status envoy.Status) {
	defer l.guard("establish_relations", func() { status = envoy.StatusInternalFault })

	b, err := l.setup()
	if err != nil {
		l.log().Error("Failed to establish relations", zap.Error(err))
		return envoy.StatusOf(err)
	}
	return envoy.StatusOf(b.Initialize())
}

// setup builds the bridge exactly once. A failed build leaves the library
// unestablished so a later call can retry with corrected configuration.
func (l *Library) setup() (*envoy.Bridge, error) {
	if b := l.bridge.Load(); b != nil {
		return b, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b := l.bridge.Load(); b != nil {
		return b, nil
	}

	cfg, err := l.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", envoy.ErrInitFailed, err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, fmt.Errorf("%w: logger: %v", envoy.ErrInitFailed, err)
	}
	logger = logger.Named("diplomacy")

	alloc := l.alloc
	if cfg.Bridge.SecureMemory {
		secure, err := securemem.New()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", envoy.ErrInitFailed, err)
		}
		alloc = secure
	}

	metrics := monitoring.NewMetrics()
	b := envoy.New(
		envoy.WithMaxQueueDepth(cfg.Bridge.MaxQueueDepth),
		envoy.WithAllocator(alloc),
		envoy.WithObserver(logging.NewObserver(logger)),
		envoy.WithObserver(metrics),
	)
	metrics.WatchBridge(b)

	// Nothing else in the host process reads the inbound queue.
	d := dispatch.New(b, dispatch.HandlerByName(cfg.Dispatch.Handler), dispatch.Config{
		Workers:         cfg.Dispatch.Workers,
		IdleInterval:    cfg.Dispatch.IdleInterval,
		RatePerSecond:   cfg.Dispatch.RatePerSecond,
		BreakerFailures: cfg.Dispatch.BreakerFailures,
		BreakerTimeout:  cfg.Dispatch.BreakerTimeout,
	},
		dispatch.WithLogger(logger),
		dispatch.WithRecorder(metrics),
	)
	ctx, stop := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := d.Run(ctx); err != nil {
			logger.Error("Dispatcher exited", zap.Error(err))
		}
	}()
	l.dispatcher, l.stop, l.stopped = d, stop, stopped

	if cfg.Admin.Enabled {
		admin := server.NewServer(cfg.Admin, cfg.Logging.Development, b, d, metrics, logger)
		if err := admin.Start(); err != nil {
			// The admin surface is optional; the bridge still works without it.
			logger.Warn("Admin server unavailable", zap.Error(err))
		} else {
			l.admin = admin
		}
	}

	l.logger.Store(logger)
	l.bridge.Store(b)
	return b, nil
}

// Bridge returns the established bridge, or nil.
func (l *Library) Bridge() *envoy.Bridge {
	return l.bridge.Load()
}

// Submit hands a caller payload to the bridge. payload is nil when the caller
// passed a null pointer.
func (l *Library) Submit(id uint32, payload []byte) (status envoy.Status) {
	defer l.guard("send_envoy", func() { status = envoy.StatusInternalFault })

	b := l.bridge.Load()
	if b == nil {
		return envoy.StatusNotInitialized
	}
	return envoy.StatusOf(b.Submit(id, payload))
}

// Retrieve lends the oldest outbound message to the caller. ok is false when
// there is nothing to hand out.
func (l *Library) Retrieve() (h envoy.Handle, ok bool) {
	defer l.guard("receive_envoy", func() { h, ok = 0, false })

	b := l.bridge.Load()
	if b == nil {
		return 0, false
	}
	buf, ok := b.Retrieve()
	if !ok {
		return 0, false
	}
	return buf.Handle(), true
}

// Release returns a buffer. Unknown handles are logged and ignored.
func (l *Library) Release(h envoy.Handle) {
	defer l.guard("release_envoy", func() {})

	b := l.bridge.Load()
	if b == nil {
		return
	}
	if err := b.Release(h); err != nil && !errors.Is(err, envoy.ErrUnknownHandle) {
		l.log().Debug("Release ignored", zap.Stringer("handle", h), zap.Error(err))
	}
}

// Version returns the library identifier.
func (l *Library) Version() string {
	return envoy.Version
}

// Dispatcher returns the inbound consumer, or nil before establishment.
func (l *Library) Dispatcher() *dispatch.Dispatcher {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dispatcher
}

// Shutdown stops the inbound consumer and the admin server. The bridge stays
// usable but nothing drains its inbound queue afterwards.
func (l *Library) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	admin, stop, stopped := l.admin, l.stop, l.stopped
	l.admin, l.stop, l.stopped = nil, nil, nil
	l.mu.Unlock()

	if stop != nil {
		stop()
		select {
		case <-stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if admin == nil {
		return nil
	}
	return admin.Shutdown(ctx)
}

// guard recovers a panic that escaped the bridge's own containment and
// applies fallback. It must be deferred directly.
func (l *Library) guard(op string, fallback func()) {
	if r := recover(); r != nil {
		l.log().Error("Panic stopped at boundary",
			zap.String("op", op),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
		fallback()
	}
}
