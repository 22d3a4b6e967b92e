package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/diplomacy/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/tracing"
)

const shutdownTimeout = 5 * time.Second

// Server is the admin HTTP server exposing bridge state and metrics
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	listener net.Listener
	done     chan error
}

// Option configures a Server.
type Option func(*options)

type options struct {
	tracer *tracing.Tracer
}

// WithTracer traces every admin request.
func WithTracer(t *tracing.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// NewServer builds the router. dispatcher may be nil.
func NewServer(cfg config.AdminConfig, development bool, bridge *envoy.Bridge, dispatcher apihttp.DispatchSource, metrics *monitoring.Metrics, logger *logging.Logger, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.Named("admin")

	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	if o.tracer != nil {
		router.Use(tracing.HTTPMiddleware(o.tracer))
	}
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))

	handlers := apihttp.NewHandlers(bridge, dispatcher)
	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &Server{
		router:  router,
		logger:  logger,
		metrics: metrics,
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("admin server already started")
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	s.listener = ln
	s.done = make(chan error, 1)

	s.logger.Info("Starting admin server", zap.String("addr", ln.Addr().String()))
	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("Admin server stopped", zap.Error(err))
		}
		s.done <- err
	}()
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.listener != nil
	done := s.done
	s.mu.Unlock()
	if !started {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	s.logger.Info("Shutting down admin server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down admin server: %w", err)
	}
	return <-done
}
