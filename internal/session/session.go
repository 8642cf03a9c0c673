/*
Session tracks one counterparty relationship: identity, sequence
counters, and their durable record.

# Module
  - Session: per-session sequence counters backed by a Store
  - StateMachine: protocol lifecycle over the transport

# Source
  - decoded messages from the connection manager
  - commands from the coordinator

# Produce
  - outbound protocol messages
  - state and raw-message events on the bus

# Sharded
  - one Session and StateMachine per counterparty; no shared state
*/
package session

import (
	"net"
	"strconv"
	"sync"
	"time"

	"main/internal/store"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

// Config identifies one session and its protocol parameters.
type Config struct {
	Name              string
	Host              string
	Port              int
	BeginString       string
	SenderCompID      string
	TargetCompID      string
	HeartbeatInterval time.Duration
	LogonTimeout      time.Duration
	LogoutTimeout     time.Duration
	ResendTimeout     time.Duration
}

// Addr returns the counterparty dial address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.LogonTimeout <= 0 {
		c.LogonTimeout = 10 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 5 * time.Second
	}
	if c.ResendTimeout <= 0 {
		c.ResendTimeout = 10 * time.Second
	}
	return c
}

// Session holds the durable sequence counters for one counterparty.
// Every counter mutation is written through to the store before it is
// observable, so a crash can never replay or skip a sequence number.
type Session struct {
	name string
	st   store.Store

	mu  sync.Mutex
	rec store.Record
}

// NewSession loads the session's counters from the store, starting a fresh
// session at 1/1 when no record exists.
func NewSession(name string, st store.Store) (*Session, error) {
	rec, ok, err := st.Load(name)
	if err != nil {
		return nil, errors.Wrap(err, "load session record").With("session", name)
	}
	if !ok {
		rec = store.Record{OutboundSeq: 1, InboundSeq: 1}
	}
	if rec.OutboundSeq == 0 {
		rec.OutboundSeq = 1
	}
	if rec.InboundSeq == 0 {
		rec.InboundSeq = 1
	}
	return &Session{name: name, st: st, rec: rec}, nil
}

// Name returns the session's logical name.
func (s *Session) Name() string { return s.name }

// NextOutbound claims the next outbound sequence number. The incremented
// counter is persisted before the claimed number is returned; a persistence
// failure leaves the counter untouched and nothing may be sent.
func (s *Session) NextOutbound() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.rec.OutboundSeq
	s.rec.OutboundSeq = n + 1
	if err := s.st.Save(s.name, s.rec); err != nil {
		s.rec.OutboundSeq = n
		return 0, errors.Wrap(exception.ErrSequencePersist, err.Error()).With("session", s.name)
	}
	return n, nil
}

// PeekOutbound returns the next outbound sequence number without claiming it.
func (s *Session) PeekOutbound() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.OutboundSeq
}

// RewindOutbound resets the next outbound sequence number. Used when the
// counterparty's logon acknowledgement expects a lower number than ours.
func (s *Session) RewindOutbound(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.rec.OutboundSeq
	s.rec.OutboundSeq = n
	if err := s.st.Save(s.name, s.rec); err != nil {
		s.rec.OutboundSeq = prev
		return errors.Wrap(exception.ErrSequencePersist, err.Error()).With("session", s.name)
	}
	return nil
}

// ExpectedInbound returns the next inbound sequence number we will accept.
func (s *Session) ExpectedInbound() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.InboundSeq
}

// SetInbound records that all inbound messages below n have been consumed.
func (s *Session) SetInbound(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.rec.InboundSeq
	s.rec.InboundSeq = n
	if err := s.st.Save(s.name, s.rec); err != nil {
		s.rec.InboundSeq = prev
		return errors.Wrap(exception.ErrSequencePersist, err.Error()).With("session", s.name)
	}
	return nil
}

// MarkLogon stamps the successful logon time.
func (s *Session) MarkLogon(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.LastLogon = at
	if err := s.st.Save(s.name, s.rec); err != nil {
		return errors.Wrap(exception.ErrSequencePersist, err.Error()).With("session", s.name)
	}
	return nil
}

// Counters returns a copy of the current durable record.
func (s *Session) Counters() store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}
