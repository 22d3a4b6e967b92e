package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

func newObserved(level zapcore.Level) (*Observer, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewObserver(&Logger{Logger: zap.New(core)}), logs
}

func TestObserverLevels(t *testing.T) {
	tests := []struct {
		name  string
		event envoy.Event
		level zapcore.Level
	}{
		{"initialized", envoy.Event{Kind: envoy.EventInitialized, RegistryID: "reg_x", Size: 8}, zapcore.InfoLevel},
		{"accepted", envoy.Event{Kind: envoy.EventSubmitAccepted, MessageID: 1}, zapcore.DebugLevel},
		{"rejected", envoy.Event{Kind: envoy.EventSubmitRejected, MessageID: 1, Status: envoy.StatusQueueFull, Err: envoy.ErrQueueFull}, zapcore.WarnLevel},
		{"shield fault", envoy.Event{Kind: envoy.EventSubmitRejected, MessageID: 1, Status: envoy.StatusInternalFault, Err: envoy.ErrInternalFault}, zapcore.ErrorLevel},
		{"violation", envoy.Event{Kind: envoy.EventReleaseViolation, Handle: 0xbeef, Err: envoy.ErrUnknownHandle}, zapcore.ErrorLevel},
		{"fault", envoy.Event{Kind: envoy.EventInternalFault, Err: errors.New("boom")}, zapcore.ErrorLevel},
		{"released", envoy.Event{Kind: envoy.EventReleased, Handle: 0xbeef}, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, logs := newObserved(zapcore.DebugLevel)

			obs.Observe(tt.event)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, tt.event.Kind.String(), entry.ContextMap()["event"])
		})
	}
}

func TestObserverViolationFields(t *testing.T) {
	obs, logs := newObserved(zapcore.InfoLevel)

	obs.Observe(envoy.Event{
		Kind:       envoy.EventReleaseViolation,
		RegistryID: "reg_01",
		Handle:     envoy.Handle(0xc000010000),
		Err:        envoy.ErrUnknownHandle,
	})

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "reg_01", fields["registry_id"])
	assert.Equal(t, "0xc000010000", fields["handle"])
	assert.Contains(t, fields["error"], "not on loan")
}

func TestObserverWithBridge(t *testing.T) {
	obs, logs := newObserved(zapcore.InfoLevel)
	b := envoy.New(envoy.WithObserver(obs))

	require.NoError(t, b.Initialize())
	_ = b.Submit(0, []byte("x"))
	_ = b.Release(0x1)

	assert.Equal(t, 1, logs.FilterMessage("Diplomatic relations established").Len())
	assert.Equal(t, 1, logs.FilterMessage("Envoy rejected").Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}
