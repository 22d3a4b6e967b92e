package envoy

import (
	"fmt"
	"time"
)

// Kind identifies how a message entered a queue.
type Kind uint8

const (
	// KindInbound is a caller submission, rendered "ID:<id>:<payload>".
	KindInbound Kind = iota + 1
	// KindAck is the automatic acknowledgment of a submission, rendered "Ack: <payload>".
	KindAck
	// KindDispatch is a managed-side send, rendered "<id>:<payload>".
	KindDispatch
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindInbound:
		return "inbound"
	case KindAck:
		return "ack"
	case KindDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// Message is an id-tagged text record. It is never mutated after enqueue.
type Message struct {
	ID         uint32
	Kind       Kind
	Payload    string
	EnqueuedAt time.Time
}

// Text renders the record in its queue format.
func (m Message) Text() string {
	switch m.Kind {
	case KindInbound:
		return fmt.Sprintf("ID:%d:%s", m.ID, m.Payload)
	case KindAck:
		return "Ack: " + m.Payload
	default:
		return fmt.Sprintf("%d:%s", m.ID, m.Payload)
	}
}

// String implements fmt.Stringer.
func (m Message) String() string {
	return m.Text()
}
