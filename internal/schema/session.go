// Package schema holds the shared types passed between the engine's modules:
// session lifecycle states, order lifecycle states, and the fixed set of
// event shapes consumed by the dispatcher.
package schema

// SessionState is the connection lifecycle state of one session.
type SessionState uint8

const (
	_session_state_beg SessionState = iota
	SessionDisconnected
	SessionConnecting
	SessionLoggedOn
	SessionResendInProgress
	SessionDisconnecting
	_session_state_end
)

func (s SessionState) IsAvailable() bool {
	return s > _session_state_beg && s < _session_state_end
}

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "Disconnected"
	case SessionConnecting:
		return "Connecting"
	case SessionLoggedOn:
		return "LoggedOn"
	case SessionResendInProgress:
		return "ResendInProgress"
	case SessionDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Active reports whether the session holds a transport.
func (s SessionState) Active() bool {
	return s != SessionDisconnected
}
