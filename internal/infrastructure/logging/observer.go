package logging

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

// Observer logs bridge events.
type Observer struct {
	logger *zap.Logger
}

// NewObserver creates an event observer writing to logger.
func NewObserver(logger *Logger) *Observer {
	return &Observer{logger: logger.Logger.Named("envoy")}
}

// Observe implements envoy.Observer.
func (o *Observer) Observe(e envoy.Event) {
	fields := []zap.Field{
		zap.String("event", e.Kind.String()),
		zap.String("registry_id", e.RegistryID),
	}
	if e.MessageID != 0 {
		fields = append(fields, zap.Uint32("envoy_id", e.MessageID))
	}
	if e.Handle != 0 {
		fields = append(fields, zap.Stringer("handle", e.Handle))
	}

	switch e.Kind {
	case envoy.EventInitialized:
		o.logger.Info("Diplomatic relations established",
			append(fields, zap.Int("max_queue_depth", e.Size))...)

	case envoy.EventSubmitAccepted:
		o.logger.Debug("Envoy accepted", append(fields, zap.Int("bytes", e.Size))...)

	case envoy.EventSubmitRejected:
		fields = append(fields, zap.Stringer("status", e.Status), zap.Error(e.Err))
		if e.Status == envoy.StatusInternalFault {
			o.logger.Error("Envoy rejected by fault shield", fields...)
			return
		}
		o.logger.Warn("Envoy rejected", fields...)

	case envoy.EventRetrieved:
		o.logger.Debug("Envoy handed to caller", append(fields, zap.Int("bytes", e.Size))...)

	case envoy.EventReleased:
		o.logger.Debug("Envoy buffer released", fields...)

	case envoy.EventSent:
		o.logger.Debug("Envoy sent", append(fields, zap.Int("bytes", e.Size))...)

	case envoy.EventReleaseViolation:
		o.logger.Error("Release of a handle that is not on loan; ignored", append(fields, zap.Error(e.Err))...)

	case envoy.EventInternalFault:
		o.logger.Error("Internal fault contained", append(fields, zap.Error(e.Err))...)
	}
}
