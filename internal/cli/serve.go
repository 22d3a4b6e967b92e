package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/securemem"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/shared/id"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	AdminAddr    string
	SecureMemory bool
	Workers      int
	Soak         SoakConfig
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a bridge with a dispatcher until interrupted",
		Long: `Host a bridge with an echo dispatcher. Configuration comes from the
environment (DIPLOMACY_*, LOG_*, ADMIN_*, DISPATCH_*); flags override it.

With --soak-callers the process also plays the caller side. When
--soak-duration is set, serve exits once the soak completes.

Example:
  envoyd serve --admin-addr 127.0.0.1:9464
  envoyd serve --soak-callers 4 --soak-rate 500 --soak-duration 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, opts, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.AdminAddr, "admin-addr", "", "enable the admin server on this address")
	cmd.Flags().BoolVar(&opts.SecureMemory, "secure-memory", false, "hand out mlocked buffers that are wiped on release")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "dispatcher workers (overrides DISPATCH_WORKERS)")
	cmd.Flags().IntVar(&opts.Soak.Callers, "soak-callers", 0, "simulated caller goroutines")
	cmd.Flags().Float64Var(&opts.Soak.Rate, "soak-rate", 0, "submits per second per caller, 0 = unlimited")
	cmd.Flags().DurationVar(&opts.Soak.Duration, "soak-duration", 0, "stop after this long")
	cmd.Flags().IntVar(&opts.Soak.DoubleReleaseEvery, "soak-double-release-every", 100, "release every Nth buffer twice, 0 = never")

	return cmd
}

func applyFlags(cmd *cobra.Command, opts *ServeOptions, cfg *config.Config) {
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Dev {
		cfg.Logging.Development = true
	}
	if opts.AdminAddr != "" {
		cfg.Admin.Enabled = true
		cfg.Admin.Address = opts.AdminAddr
	}
	if cmd.Flags().Changed("secure-memory") {
		cfg.Bridge.SecureMemory = opts.SecureMemory
	}
	if opts.Workers > 0 {
		cfg.Dispatch.Workers = opts.Workers
	}
}

func runServe(parent context.Context, cfg *config.Config, opts *ServeOptions) error {
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("run_id", id.NewRunID().String()))

	tracer := tracing.New("envoyd", logger)
	defer tracer.Close()

	var alloc envoy.Allocator = envoy.NewHeapAllocator()
	if cfg.Bridge.SecureMemory {
		secure, err := securemem.New()
		if err != nil {
			return err
		}
		defer securemem.Purge()
		alloc = secure
	}

	metrics := monitoring.NewMetrics()
	bridge := envoy.New(
		envoy.WithMaxQueueDepth(cfg.Bridge.MaxQueueDepth),
		envoy.WithAllocator(alloc),
		envoy.WithObserver(logging.NewObserver(logger)),
		envoy.WithObserver(metrics),
	)
	metrics.WatchBridge(bridge)
	if err := bridge.Initialize(); err != nil {
		return err
	}

	dispatcher := dispatch.New(bridge, dispatch.Echo, dispatch.Config{
		Workers:         cfg.Dispatch.Workers,
		IdleInterval:    cfg.Dispatch.IdleInterval,
		RatePerSecond:   cfg.Dispatch.RatePerSecond,
		BreakerFailures: cfg.Dispatch.BreakerFailures,
		BreakerTimeout:  cfg.Dispatch.BreakerTimeout,
	},
		dispatch.WithLogger(logger),
		dispatch.WithRecorder(metrics),
		dispatch.WithTracer(tracer),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var admin *server.Server
	if cfg.Admin.Enabled {
		admin = server.NewServer(cfg.Admin, cfg.Logging.Development, bridge, dispatcher, metrics, logger, server.WithTracer(tracer))
		if err := admin.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		return dispatcher.Run(runCtx)
	})
	if opts.Soak.Callers > 0 {
		g.Go(func() error {
			_, err := runSoak(runCtx, bridge, opts.Soak, logger)
			if err == nil && opts.Soak.Duration > 0 {
				cancelRun()
			}
			return err
		})
	}

	runErr := g.Wait()

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Admin shutdown failed", zap.Error(err))
		}
	}

	stats := bridge.Stats()
	logger.Info("Bridge stopped",
		zap.Uint64("accepted", stats.Accepted),
		zap.Uint64("rejected", stats.Rejected),
		zap.Uint64("release_violations", stats.Violations),
		zap.Uint64("internal_faults", stats.Faults),
		zap.Int("active_loans", stats.ActiveLoans),
	)
	return runErr
}
