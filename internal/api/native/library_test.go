package native

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/config"
)

func quietConfig() (*config.Config, error) {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	return cfg, nil
}

// newTestLibrary returns a library whose consumer is stopped when the test
// ends. mutate may adjust the configuration.
func newTestLibrary(t *testing.T, mutate func(*config.Config)) *Library {
	t.Helper()
	l := New(envoy.NewHeapAllocator(), func() (*config.Config, error) {
		cfg, err := quietConfig()
		if mutate != nil {
			mutate(cfg)
		}
		return cfg, err
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, l.Shutdown(ctx))
	})
	return l
}

// loanText reads the text behind an outstanding handle.
func loanText(t *testing.T, l *Library, h envoy.Handle) string {
	t.Helper()
	for _, loan := range l.Bridge().Registry().Loans.Outstanding() {
		if loan.Handle == h {
			return loan.Buffer.String()
		}
	}
	t.Fatalf("handle %s is not on loan", h)
	return ""
}

func TestHelloRoundTrip(t *testing.T) {
	l := newTestLibrary(t, nil)
	require.Equal(t, envoy.StatusSuccess, l.Establish())

	require.Equal(t, envoy.StatusSuccess, l.Submit(101, []byte("Hello")))

	h, ok := l.Retrieve()
	require.True(t, ok)
	assert.Equal(t, "Ack: Hello", loanText(t, l, h))

	l.Release(h)
	_, ok = l.Retrieve()
	assert.False(t, ok)
	assert.Zero(t, l.Bridge().Stats().ActiveLoans)
}

func TestCallsBeforeEstablish(t *testing.T) {
	l := newTestLibrary(t, nil)

	assert.Equal(t, envoy.StatusNotInitialized, l.Submit(1, []byte("x")))
	_, ok := l.Retrieve()
	assert.False(t, ok)
	assert.NotPanics(t, func() { l.Release(envoy.Handle(0xdead)) })
	assert.Nil(t, l.Bridge())
}

func TestEstablishTwice(t *testing.T) {
	l := newTestLibrary(t, nil)
	require.Equal(t, envoy.StatusSuccess, l.Establish())
	assert.Equal(t, envoy.StatusAlreadyInitialized, l.Establish())
}

func TestConcurrentEstablish(t *testing.T) {
	l := newTestLibrary(t, nil)

	const callers = 16
	statuses := make([]envoy.Status, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i] = l.Establish()
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, s := range statuses {
		switch s {
		case envoy.StatusSuccess:
			successes++
		default:
			assert.Equal(t, envoy.StatusAlreadyInitialized, s)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestConfigFailureAllowsRetry(t *testing.T) {
	attempts := 0
	l := New(envoy.NewHeapAllocator(), func() (*config.Config, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("DIPLOMACY_MAX_QUEUE_DEPTH out of range")
		}
		return quietConfig()
	})
	t.Cleanup(func() { _ = l.Shutdown(context.Background()) })

	assert.Equal(t, envoy.StatusInitFailed, l.Establish())
	assert.Equal(t, envoy.StatusNotInitialized, l.Submit(1, []byte("x")))
	assert.Equal(t, envoy.StatusSuccess, l.Establish())
	assert.Equal(t, 2, attempts)
}

func TestPanicDoesNotCrossBoundary(t *testing.T) {
	l := New(envoy.NewHeapAllocator(), func() (*config.Config, error) {
		panic("config loader exploded")
	})

	var status envoy.Status
	require.NotPanics(t, func() { status = l.Establish() })
	assert.Equal(t, envoy.StatusInternalFault, status)
}

func TestSubmitStatuses(t *testing.T) {
	l := newTestLibrary(t, func(cfg *config.Config) { cfg.Bridge.MaxQueueDepth = 1 })
	require.Equal(t, envoy.StatusSuccess, l.Establish())

	assert.Equal(t, envoy.StatusNullPointer, l.Submit(1, nil))
	assert.Equal(t, envoy.StatusInvalidID, l.Submit(0, []byte("x")))
	assert.Equal(t, envoy.StatusInvalidEncoding, l.Submit(1, []byte{0xff, 0xfe}))
	assert.Equal(t, envoy.StatusSuccess, l.Submit(1, []byte("x")))
	// The ack still holds the only outbound slot.
	assert.Equal(t, envoy.StatusQueueFull, l.Submit(2, []byte("y")))
}

func TestInboundQueueIsConsumed(t *testing.T) {
	const depth = 4
	l := newTestLibrary(t, func(cfg *config.Config) {
		cfg.Bridge.MaxQueueDepth = depth
		cfg.Dispatch.IdleInterval = time.Millisecond
	})
	require.Equal(t, envoy.StatusSuccess, l.Establish())

	const rounds = 3 * depth
	for i := 1; i <= rounds; i++ {
		require.Eventually(t, func() bool {
			return l.Bridge().Stats().Incoming.Depth < depth
		}, 5*time.Second, time.Millisecond, "round %d", i)

		require.Equal(t, envoy.StatusSuccess, l.Submit(uint32(i), []byte("ping")), "round %d", i)
		h, ok := l.Retrieve()
		require.True(t, ok, "round %d", i)
		assert.Equal(t, "Ack: ping", loanText(t, l, h))
		l.Release(h)
	}

	require.Eventually(t, func() bool {
		return l.Dispatcher().Stats().Handled == rounds
	}, 5*time.Second, time.Millisecond)
	stats := l.Bridge().Stats()
	assert.Zero(t, stats.Incoming.Depth)
	assert.Zero(t, stats.Outgoing.Depth)
	assert.Zero(t, stats.ActiveLoans)
	assert.Zero(t, l.Dispatcher().Stats().Replied)
}

func TestEchoHandlerReplies(t *testing.T) {
	l := newTestLibrary(t, func(cfg *config.Config) {
		cfg.Dispatch.Handler = "echo"
		cfg.Dispatch.IdleInterval = time.Millisecond
	})
	require.Equal(t, envoy.StatusSuccess, l.Establish())
	require.Equal(t, envoy.StatusSuccess, l.Submit(101, []byte("Hello")))

	h, ok := l.Retrieve()
	require.True(t, ok)
	assert.Equal(t, "Ack: Hello", loanText(t, l, h))
	l.Release(h)

	var reply envoy.Handle
	require.Eventually(t, func() bool {
		reply, ok = l.Retrieve()
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, "101:Hello", loanText(t, l, reply))
	l.Release(reply)
}

func TestShutdownStopsConsumer(t *testing.T) {
	l := newTestLibrary(t, nil)
	require.Equal(t, envoy.StatusSuccess, l.Establish())
	require.Eventually(t, func() bool { return l.Dispatcher().Stats().Running }, 5*time.Second, time.Millisecond)

	require.NoError(t, l.Shutdown(context.Background()))
	assert.False(t, l.Dispatcher().Stats().Running)
	assert.NoError(t, l.Shutdown(context.Background()))
}

func TestDoubleReleaseIsIgnored(t *testing.T) {
	l := newTestLibrary(t, nil)
	require.Equal(t, envoy.StatusSuccess, l.Establish())
	require.Equal(t, envoy.StatusSuccess, l.Submit(7, []byte("twice")))

	h, ok := l.Retrieve()
	require.True(t, ok)
	l.Release(h)
	assert.NotPanics(t, func() { l.Release(h) })
	assert.Equal(t, uint64(1), l.Bridge().Stats().Violations)
}

func TestShutdownWithoutAdmin(t *testing.T) {
	l := newTestLibrary(t, nil)
	require.Equal(t, envoy.StatusSuccess, l.Establish())
	assert.NoError(t, l.Shutdown(context.Background()))
	assert.Equal(t, envoy.Version, l.Version())
}
