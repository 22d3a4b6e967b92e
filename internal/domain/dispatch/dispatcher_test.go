package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/shared/id"
)

// fakeEndpoint is an in-memory Endpoint.
type fakeEndpoint struct {
	mu      sync.Mutex
	inbox   []envoy.Message
	sent    map[uint32]string
	sendErr error
}

func newFakeEndpoint(msgs ...envoy.Message) *fakeEndpoint {
	return &fakeEndpoint{inbox: msgs, sent: make(map[uint32]string)}
}

func (f *fakeEndpoint) Receive() (envoy.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return envoy.Message{}, false
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, true
}

func (f *fakeEndpoint) Send(id uint32, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[id] = payload
	return nil
}

func (f *fakeEndpoint) replies() map[uint32]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint32]string, len(f.sent))
	for k, v := range f.sent {
		out[k] = v
	}
	return out
}

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *countingRecorder) RecordDispatch(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
}

func (r *countingRecorder) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func inbound(id uint32, payload string) envoy.Message {
	return envoy.Message{ID: id, Kind: envoy.KindInbound, Payload: payload}
}

func TestHandleOneEcho(t *testing.T) {
	ep := newFakeEndpoint(inbound(7, "Hello"))
	rec := &countingRecorder{}
	d := New(ep, Echo, Config{}, WithRecorder(rec))

	require.True(t, d.HandleOne(context.Background()))
	assert.False(t, d.HandleOne(context.Background()))

	assert.Equal(t, map[uint32]string{7: "Hello"}, ep.replies())
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Handled)
	assert.Equal(t, uint64(1), stats.Replied)
	assert.Equal(t, 1, rec.count(ResultHandled))
	assert.Equal(t, 1, rec.count(ResultReplied))
}

func TestEmptyReplyIsNotSent(t *testing.T) {
	ep := newFakeEndpoint(inbound(1, "x"))
	d := New(ep, func(context.Context, envoy.Message) (string, error) { return "", nil }, Config{})

	d.HandleOne(context.Background())
	assert.Empty(t, ep.replies())
	assert.Equal(t, uint64(1), d.Stats().Handled)
	assert.Zero(t, d.Stats().Replied)
}

func TestHandlerByName(t *testing.T) {
	tests := []struct {
		name  string
		reply map[uint32]string
	}{
		{"echo", map[uint32]string{3: "ping"}},
		{"discard", map[uint32]string{}},
		{"", map[uint32]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := newFakeEndpoint(inbound(3, "ping"))
			d := New(ep, HandlerByName(tt.name), Config{})

			require.True(t, d.HandleOne(context.Background()))
			assert.Equal(t, tt.reply, ep.replies())
			assert.Equal(t, uint64(1), d.Stats().Handled)
		})
	}
}

func TestReplyDropped(t *testing.T) {
	ep := newFakeEndpoint(inbound(1, "x"))
	ep.sendErr = envoy.ErrQueueFull
	rec := &countingRecorder{}
	d := New(ep, Echo, Config{}, WithRecorder(rec))

	d.HandleOne(context.Background())
	assert.Equal(t, uint64(1), d.Stats().ReplyDropped)
	assert.Equal(t, 1, rec.count(ResultReplyDropped))
}

func TestHandlerPanicIsContained(t *testing.T) {
	ep := newFakeEndpoint(inbound(1, "boom"), inbound(2, "ok"))
	d := New(ep, func(_ context.Context, msg envoy.Message) (string, error) {
		if msg.Payload == "boom" {
			panic("handler exploded")
		}
		return msg.Payload, nil
	}, Config{})

	require.NotPanics(t, func() {
		d.HandleOne(context.Background())
		d.HandleOne(context.Background())
	})
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Handled)
	assert.Equal(t, map[uint32]string{2: "ok"}, ep.replies())
}

func TestBreakerShedsAfterFailures(t *testing.T) {
	msgs := make([]envoy.Message, 5)
	for i := range msgs {
		msgs[i] = inbound(uint32(i+1), "x")
	}
	ep := newFakeEndpoint(msgs...)
	handlerErr := errors.New("downstream unavailable")
	d := New(ep, func(context.Context, envoy.Message) (string, error) {
		return "", handlerErr
	}, Config{BreakerFailures: 2, BreakerTimeout: time.Hour})

	for d.HandleOne(context.Background()) {
	}

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(3), stats.Shed)
	assert.Equal(t, "open", stats.Breaker)
}

func TestRunDrainsBridge(t *testing.T) {
	b := envoy.New(envoy.WithMaxQueueDepth(64))
	require.NoError(t, b.Initialize())

	for i := uint32(1); i <= 10; i++ {
		require.NoError(t, b.Submit(i, []byte("ping")))
	}
	// Drain the acks so replies have room in the outbound queue.
	for {
		buf, ok := b.Retrieve()
		if !ok {
			break
		}
		require.NoError(t, b.Release(buf.Handle()))
	}

	d := New(b, Echo, Config{Workers: 3, IdleInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return d.Stats().Replied == 10
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	seen := 0
	for {
		buf, ok := b.Retrieve()
		if !ok {
			break
		}
		assert.Contains(t, buf.String(), ":ping")
		require.NoError(t, b.Release(buf.Handle()))
		seen++
	}
	assert.Equal(t, 10, seen)
	assert.False(t, d.Stats().Running)
}

func TestRunTwiceFails(t *testing.T) {
	d := New(newFakeEndpoint(), Echo, Config{Workers: 1, IdleInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.Stats().Running }, time.Second, time.Millisecond)

	assert.Error(t, d.Run(ctx))
	cancel()
	assert.NoError(t, <-done)
}

func TestRatePacing(t *testing.T) {
	ep := newFakeEndpoint(inbound(1, "a"), inbound(2, "b"), inbound(3, "c"))
	d := New(ep, Echo, Config{Workers: 1, IdleInterval: time.Millisecond, RatePerSecond: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = d.Run(ctx) }()
	require.Eventually(t, func() bool { return d.Stats().Replied == 3 }, 2*time.Second, time.Millisecond)
}

func TestTracerSeesHandlerContext(t *testing.T) {
	tracer := tracing.New("test", logging.NewNop())
	defer tracer.Close()

	ep := newFakeEndpoint(inbound(9, "traced"))
	var traceID id.TraceID
	d := New(ep, func(ctx context.Context, msg envoy.Message) (string, error) {
		traceID, _ = tracing.FromContext(ctx)
		return msg.Payload, nil
	}, Config{}, WithTracer(tracer))

	require.True(t, d.HandleOne(context.Background()))
	assert.NotEmpty(t, traceID)
	assert.Equal(t, map[uint32]string{9: "traced"}, ep.replies())
}
