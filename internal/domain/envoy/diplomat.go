package envoy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Send posts a message from the managed side to the caller. It is rendered
// "<id>:<payload>" and picked up by the caller through Retrieve. payload
// follows the same text rules as Submit: valid UTF-8 without NUL.
func (b *Bridge) Send(id uint32, payload string) error {
	reg := b.registry.Load()
	if reg == nil {
		return ErrNotInitialized
	}
	if id == 0 {
		return ErrInvalidID
	}
	if i := strings.IndexByte(payload, 0); i >= 0 {
		return fmt.Errorf("send envoy %d: %w", id, &EncodingError{Offset: i, Reason: "embedded NUL"})
	}
	if !utf8.ValidString(payload) {
		return fmt.Errorf("send envoy %d: %w", id, &EncodingError{Offset: invalidOffset([]byte(payload)), Reason: "invalid UTF-8"})
	}
	msg := Message{ID: id, Kind: KindDispatch, Payload: payload, EnqueuedAt: b.now()}
	if err := reg.Outgoing.Offer(msg); err != nil {
		return fmt.Errorf("send envoy %d: %w", id, err)
	}
	b.emit(Event{Kind: EventSent, RegistryID: string(reg.ID), MessageID: id, Size: len(payload)})
	return nil
}

// Receive pops the oldest envoy submitted by the caller. ok is false when the
// inbound queue is empty or the bridge is not initialized.
func (b *Bridge) Receive() (msg Message, ok bool) {
	reg := b.registry.Load()
	if reg == nil {
		return Message{}, false
	}
	return reg.Incoming.Pop()
}
