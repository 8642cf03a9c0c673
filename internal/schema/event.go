package schema

import "time"

// EventType defines the category of an event fanned out by the dispatcher.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventSessionState
	EventOrderUpdate
	EventRawMessage
)

func (t EventType) String() string {
	switch t {
	case EventSessionState:
		return "session_state"
	case EventOrderUpdate:
		return "order_update"
	case EventRawMessage:
		return "raw_message"
	default:
		return "unknown"
	}
}

// Direction tells whether a raw message was sent or received.
type Direction uint8

const (
	DirectionInbound Direction = iota + 1
	DirectionOutbound
)

func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "in"
	case DirectionOutbound:
		return "out"
	default:
		return "unknown"
	}
}

// SessionEvent reports a session state change.
type SessionEvent struct {
	Session string
	From    SessionState
	To      SessionState
	Err     error
	At      time.Time
}

// OrderEvent reports an order lifecycle update.
type OrderEvent struct {
	Order Order
	At    time.Time
}

// RawMessageEvent carries one raw wire message for logging and audit.
type RawMessageEvent struct {
	Session   string
	Direction Direction
	MsgType   string
	SeqNum    uint64
	Raw       []byte
	At        time.Time
}

// Event is the unit passed through the dispatcher: exactly one of the
// payload fields is set, indicated by Type.
type Event struct {
	Type    EventType
	Seq     uint64
	Session *SessionEvent
	Order   *OrderEvent
	Raw     *RawMessageEvent
}
