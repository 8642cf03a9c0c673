package exception

import "errors"

// Connection errors are session scoped. A transport failure never tears down
// any other session; recovery is an explicit reconnect command.
var (
	ErrConnectionClosed   = errors.New("conn: connection closed")
	ErrConnectionFailed   = errors.New("conn: connection failed")
	ErrAlreadyActive      = errors.New("conn: session already active")
	ErrNotConnected       = errors.New("conn: session not connected")
	ErrWriteFailed        = errors.New("conn: write failed")
	ErrLogonTimeout       = errors.New("conn: logon ack timeout")
	ErrTestRequestTimeout = errors.New("conn: no response to test request")
	ErrResendTimeout      = errors.New("conn: resend request timeout")
)
