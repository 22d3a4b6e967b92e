package cli

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/logging"
)

// SoakConfig drives the simulated caller.
type SoakConfig struct {
	Callers  int
	Rate     float64 // submits per second per caller, 0 = unlimited
	Duration time.Duration
	// DoubleReleaseEvery releases every Nth retrieved buffer twice. Zero
	// disables deliberate violations.
	DoubleReleaseEvery int
}

// SoakReport summarizes a soak run.
type SoakReport struct {
	Submitted      uint64                  `json:"submitted"`
	Rejected       map[envoy.Status]uint64 `json:"rejected"`
	Retrieved      uint64                  `json:"retrieved"`
	Released       uint64                  `json:"released"`
	DoubleReleases uint64                  `json:"double_releases"`
}

type soakCounters struct {
	submitted      atomic.Uint64
	retrieved      atomic.Uint64
	released       atomic.Uint64
	doubleReleases atomic.Uint64

	mu       sync.Mutex
	rejected map[envoy.Status]uint64
}

func (c *soakCounters) reject(s envoy.Status) {
	c.mu.Lock()
	c.rejected[s]++
	c.mu.Unlock()
}

func (c *soakCounters) report() SoakReport {
	c.mu.Lock()
	rejected := make(map[envoy.Status]uint64, len(c.rejected))
	for k, v := range c.rejected {
		rejected[k] = v
	}
	c.mu.Unlock()
	return SoakReport{
		Submitted:      c.submitted.Load(),
		Rejected:       rejected,
		Retrieved:      c.retrieved.Load(),
		Released:       c.released.Load(),
		DoubleReleases: c.doubleReleases.Load(),
	}
}

// runSoak submits, retrieves and releases through b from cfg.Callers
// goroutines until cfg.Duration elapses or ctx is done. Every buffer handed out
// is released before it returns.
func runSoak(ctx context.Context, b *envoy.Bridge, cfg SoakConfig, logger *logging.Logger) (SoakReport, error) {
	if cfg.Callers < 1 {
		return SoakReport{}, fmt.Errorf("soak needs at least one caller, got %d", cfg.Callers)
	}
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	counters := &soakCounters{rejected: make(map[envoy.Status]uint64)}
	g, gctx := errgroup.WithContext(ctx)
	for caller := 0; caller < cfg.Callers; caller++ {
		var limiter *rate.Limiter
		if cfg.Rate > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
		}
		base := uint32(caller+1) << 20
		g.Go(func() error {
			soakCaller(gctx, b, base, limiter, cfg.DoubleReleaseEvery, counters)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counters.report(), err
	}

	// Hand back whatever the dispatcher replied after the callers stopped.
	drain(b, 0, counters)

	report := counters.report()
	logger.Info("Soak finished",
		zap.Uint64("submitted", report.Submitted),
		zap.Uint64("retrieved", report.Retrieved),
		zap.Uint64("released", report.Released),
		zap.Uint64("double_releases", report.DoubleReleases),
		zap.Any("rejected", report.Rejected),
	)
	return report, nil
}

func soakCaller(ctx context.Context, b *envoy.Bridge, base uint32, limiter *rate.Limiter, doubleEvery int, c *soakCounters) {
	for n := uint32(1); ; n++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		} else if ctx.Err() != nil {
			return
		}

		id := base | (n & 0xfffff)
		if id == base {
			continue
		}
		payload := fmt.Sprintf("caller %d message %d", base>>20, n)
		if err := b.Submit(id, []byte(payload)); err != nil {
			c.reject(envoy.StatusOf(err))
		} else {
			c.submitted.Add(1)
		}
		drain(b, doubleEvery, c)
	}
}

func drain(b *envoy.Bridge, doubleEvery int, c *soakCounters) {
	for {
		buf, ok := b.Retrieve()
		if !ok {
			return
		}
		n := c.retrieved.Add(1)
		h := buf.Handle()
		if err := b.Release(h); err == nil {
			c.released.Add(1)
		}
		if doubleEvery > 0 && n%uint64(doubleEvery) == 0 {
			// Expected to be reported as a violation and ignored.
			_ = b.Release(h)
			c.doubleReleases.Add(1)
		}
		// Keep the freed buffer from being reused for another loan while
		// its stale handle is still in play.
		runtime.KeepAlive(buf)
	}
}
