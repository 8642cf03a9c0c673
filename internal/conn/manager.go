/*
Conn owns the network transport for one session.

# Module
  - manager: dial, framed read loop, serialized write path

# Source
  - raw bytes from the counterparty socket

# Produce
  - decoded messages to the session state machine
  - transport errors to the session state machine

# Sharded
  - one manager per session; managers never share state
*/
package conn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/fix"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

const (
	readBufferSize      = 4096
	defaultWriteTimeout = 10 * time.Second
)

// Handler receives the read loop's output. Callbacks run on the manager's
// read goroutine; implementations must not block.
type Handler interface {
	// OnMessage delivers one decoded inbound message.
	OnMessage(msg *fix.Message)
	// OnDecodeError reports a single undecodable message. Non-fatal: the
	// bytes are dropped and the read loop continues.
	OnDecodeError(raw []byte, err error)
	// OnTransportError reports a broken transport. The manager is already
	// closed when this fires.
	OnTransportError(err error)
}

// Dialer opens the transport for a session.
type Dialer interface {
	Dial(addr string) (net.Conn, error)
}

// NetDialer dials plain TCP with a timeout.
type NetDialer struct {
	Timeout time.Duration
}

func (d NetDialer) Dial(addr string) (net.Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return net.DialTimeout("tcp", addr, timeout)
}

// Manager owns exactly one transport handle for one session. The read loop
// frames and decodes inbound bytes; Write serializes all outbound sends so
// two transmits can never interleave on the wire.
type Manager struct {
	addr    string
	dialer  Dialer
	handler Handler

	// WriteTimeout bounds every Write; zero selects a 10s default. Set
	// before Open. A counterparty that stops reading fails the write
	// instead of freezing the caller.
	WriteTimeout time.Duration

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     net.Conn
	closing  atomic.Bool
	readDone chan struct{}
}

// NewManager creates a manager for one session's counterparty address.
func NewManager(addr string, dialer Dialer, handler Handler) *Manager {
	if dialer == nil {
		dialer = NetDialer{}
	}
	return &Manager{addr: addr, dialer: dialer, handler: handler}
}

// Open dials the counterparty and starts the read loop. Opening an already
// active manager fails with ErrAlreadyActive.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return exception.ErrAlreadyActive
	}

	c, err := m.dialer.Dial(m.addr)
	if err != nil {
		return errors.Wrap(exception.ErrConnectionFailed, err.Error()).With("addr", m.addr)
	}
	m.conn = c
	m.closing.Store(false)
	m.readDone = make(chan struct{})
	go m.readLoop(c, m.readDone)
	return nil
}

// Active reports whether a transport is currently held.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Write sends one framed message. Serialized: concurrent callers queue on
// the write lock, so messages hit the wire whole and in order.
func (m *Manager) Write(raw []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return exception.ErrNotConnected
	}
	timeout := m.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	_ = c.SetWriteDeadline(time.Now().Add(timeout))
	_, err := c.Write(raw)
	_ = c.SetWriteDeadline(time.Time{})
	if err != nil {
		return errors.Wrap(exception.ErrWriteFailed, err.Error())
	}
	return nil
}

// Close tears the transport down and waits for the read loop to exit.
// Idempotent; a close initiated here is not reported as a transport error.
func (m *Manager) Close() error {
	m.closing.Store(true)
	m.mu.Lock()
	c := m.conn
	done := m.readDone
	m.conn = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	err := c.Close()
	if done != nil {
		<-done
	}
	return err
}

func (m *Manager) readLoop(c net.Conn, done chan struct{}) {
	defer close(done)

	var pending []byte
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = m.drainFrames(pending)
		}
		if err != nil {
			if !m.closing.Load() {
				m.detach(c)
				m.handler.OnTransportError(errors.Wrap(exception.ErrConnectionClosed, err.Error()))
			}
			return
		}
	}
}

// drainFrames extracts and dispatches every complete message in pending,
// returning the unconsumed remainder.
func (m *Manager) drainFrames(pending []byte) []byte {
	for {
		frame, rest := fix.ExtractFrame(pending)
		if frame == nil {
			if rest == nil {
				return nil
			}
			// Copy the tail so the backing array can be released.
			keep := make([]byte, len(rest))
			copy(keep, rest)
			return keep
		}
		msg, err := fix.Decode(frame)
		if err != nil {
			m.handler.OnDecodeError(frame, err)
		} else {
			m.handler.OnMessage(msg)
		}
		pending = rest
	}
}

// detach clears the connection after a read failure so a later Open works.
func (m *Manager) detach(c net.Conn) {
	m.mu.Lock()
	if m.conn == c {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = c.Close()
}
