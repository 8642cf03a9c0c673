package session

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"main/internal/bus"
	"main/internal/fix"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Transport is the connection surface the state machine drives. One
// transport per session; writes are serialized by the implementation.
type Transport interface {
	Open() error
	Write(raw []byte) error
	Close() error
	Active() bool
}

// Recorder journals raw wire traffic. Implementations must not block.
type Recorder interface {
	Record(session string, dir schema.Direction, msgType string, seqNum uint64, raw []byte)
}

type input struct {
	msg *fix.Message
	err error
	fn  func()
}

// StateMachine drives one session's protocol lifecycle. All counter and
// state mutation happens on the run loop goroutine; inbound messages,
// timers, and commands are funneled through one inbox, so there is nothing
// for two sessions or two callers to race on.
type StateMachine struct {
	cfg   Config
	sess  *Session
	codec *fix.Codec
	bus   *bus.Dispatcher
	rec   Recorder

	transport Transport
	onApp     func(session string, msg *fix.Message)

	inbox        chan input
	inboxDropped atomic.Uint64
	running      atomic.Bool
	stopped      chan struct{}
	state        atomic.Uint32

	// owned by the run loop
	gapHigh        uint64
	logonDeadline  time.Time
	logoutDeadline time.Time
	resendDeadline time.Time
	lastSent       time.Time
	lastRecv       time.Time
	testReqAt      time.Time
	testReqPending bool
	logoutWanted   bool
}

// NewStateMachine builds the state machine for one session. Bind must be
// called with the session's transport before Run.
func NewStateMachine(cfg Config, sess *Session, d *bus.Dispatcher, rec Recorder) *StateMachine {
	cfg = cfg.withDefaults()
	m := &StateMachine{
		cfg:     cfg,
		sess:    sess,
		bus:     d,
		rec:     rec,
		inbox:   make(chan input, 256),
		stopped: make(chan struct{}),
	}
	m.codec = fix.NewCodec(cfg.BeginString, cfg.SenderCompID, cfg.TargetCompID, sess)
	m.state.Store(uint32(schema.SessionDisconnected))
	return m
}

// Bind attaches the session's transport.
func (m *StateMachine) Bind(t Transport) { m.transport = t }

// SetAppHandler registers the consumer of application-level messages
// (execution reports, cancel rejects). Called on the run loop goroutine.
func (m *StateMachine) SetAppHandler(fn func(session string, msg *fix.Message)) {
	m.onApp = fn
}

// State returns the current lifecycle state.
func (m *StateMachine) State() schema.SessionState {
	return schema.SessionState(m.state.Load())
}

// Run processes inbox inputs and timers until ctx is canceled. It must be
// called exactly once, on its own goroutine.
func (m *StateMachine) Run(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	defer close(m.stopped)

	tick := m.cfg.HeartbeatInterval / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if m.State() != schema.SessionDisconnected {
				m.drop(exception.ErrSessionStopped)
			}
			return
		case in := <-m.inbox:
			switch {
			case in.fn != nil:
				in.fn()
			case in.err != nil:
				m.onTransportError(in.err)
			case in.msg != nil:
				m.onMessage(in.msg)
			}
		case <-ticker.C:
			m.onTick(time.Now())
		}
	}
}

// Connect dials the counterparty and starts the logon exchange. Completion
// is reported through session state events; Connect returns once the logon
// is on the wire. Connecting an already active session fails with
// ErrAlreadyActive.
func (m *StateMachine) Connect() error {
	return m.call(m.connect)
}

// Disconnect starts a graceful logout. The session reaches Disconnected
// when the counterparty acknowledges or the logout timeout lapses.
func (m *StateMachine) Disconnect() error {
	return m.call(m.disconnect)
}

// Send transmits one application message on a logged-on session.
func (m *StateMachine) Send(msgType string, body fix.Fields) error {
	return m.call(func() error {
		st := m.State()
		if st != schema.SessionLoggedOn {
			return errors.Wrap(exception.ErrOrderSessionNotReady, "session not logged on").
				With("session", m.cfg.Name).
				With("state", st.String())
		}
		return m.send(msgType, body)
	})
}

// AwaitState polls until the session reaches the wanted state or the
// timeout lapses.
func (m *StateMachine) AwaitState(want schema.SessionState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.State() == want {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-m.stopped:
			return m.State() == want
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// OnMessage implements the transport handler. Runs on the read goroutine;
// the message is handed to the run loop.
func (m *StateMachine) OnMessage(msg *fix.Message) {
	m.post(input{msg: msg})
}

// OnDecodeError implements the transport handler. Malformed inbound bytes
// are logged and dropped; the session keeps running.
func (m *StateMachine) OnDecodeError(raw []byte, err error) {
	logs.Errorf("session %s: drop undecodable message: %s", m.cfg.Name, err)
}

// OnTransportError implements the transport handler.
func (m *StateMachine) OnTransportError(err error) {
	m.post(input{err: err})
}

// post hands transport input to the run loop. It never blocks the read
// goroutine: the run loop may be inside a teardown that waits for the read
// loop to exit, so blocking here would wedge the session. A message that
// finds the inbox full is dropped and counted; the resulting sequence gap
// is recovered through a resend once the loop catches up. Transport errors
// are handed off to a side goroutine instead so a disconnect is never lost.
func (m *StateMachine) post(in input) {
	select {
	case m.inbox <- in:
		return
	case <-m.stopped:
		return
	default:
	}
	if in.msg != nil {
		n := m.inboxDropped.Add(1)
		logs.Errorf("session %s: inbox full, dropped inbound seq %d (%d dropped so far)",
			m.cfg.Name, in.msg.SeqNum, n)
		return
	}
	go func() {
		select {
		case m.inbox <- in:
		case <-m.stopped:
		}
	}()
}

func (m *StateMachine) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case m.inbox <- input{fn: func() { reply <- fn() }}:
	case <-m.stopped:
		return errors.Wrap(exception.ErrSessionStopped, "session loop stopped").With("session", m.cfg.Name)
	}
	select {
	case err := <-reply:
		return err
	case <-m.stopped:
		return errors.Wrap(exception.ErrSessionStopped, "session loop stopped").With("session", m.cfg.Name)
	}
}

func (m *StateMachine) connect() error {
	if st := m.State(); st != schema.SessionDisconnected {
		return errors.Wrap(exception.ErrAlreadyActive, "session already active").
			With("session", m.cfg.Name).
			With("state", st.String())
	}
	if err := m.transport.Open(); err != nil {
		return err
	}

	m.logoutWanted = false
	m.testReqPending = false
	m.gapHigh = 0
	m.transition(schema.SessionConnecting, nil)

	body := fix.Fields{}.
		Add(fix.TagEncryptMethod, "0").
		Add(fix.TagHeartBtInt, strconv.Itoa(int(m.cfg.HeartbeatInterval/time.Second))).
		Add(fix.TagNextExpectedSeqNum, strconv.FormatUint(m.sess.ExpectedInbound(), 10))
	if err := m.send(fix.MsgTypeLogon, body); err != nil {
		m.drop(err)
		return err
	}
	m.logonDeadline = time.Now().Add(m.cfg.LogonTimeout)
	m.lastRecv = time.Now()
	return nil
}

func (m *StateMachine) disconnect() error {
	switch m.State() {
	case schema.SessionDisconnected, schema.SessionDisconnecting:
		return nil
	case schema.SessionConnecting:
		m.drop(nil)
		return nil
	default:
		m.logoutWanted = true
		if err := m.send(fix.MsgTypeLogout, nil); err != nil {
			m.drop(err)
			return nil
		}
		m.transition(schema.SessionDisconnecting, nil)
		m.logoutDeadline = time.Now().Add(m.cfg.LogoutTimeout)
		return nil
	}
}

// send encodes with the next persisted sequence number and writes to the
// transport. An encode failure means the counter could not be persisted,
// in which case nothing was sent.
func (m *StateMachine) send(msgType string, body fix.Fields) error {
	raw, seq, err := m.codec.Encode(msgType, body)
	if err != nil {
		return err
	}
	if err := m.transport.Write(raw); err != nil {
		return err
	}
	m.lastSent = time.Now()
	m.publishRaw(schema.DirectionOutbound, msgType, seq, raw)
	return nil
}

// sendWithSeq writes a message carrying an explicit sequence number,
// bypassing the counter. Used for gap fills and sequence resets.
func (m *StateMachine) sendWithSeq(msgType string, body fix.Fields, seq uint64, possDup bool) error {
	raw := m.codec.EncodeWithSeq(msgType, body, seq, possDup)
	if err := m.transport.Write(raw); err != nil {
		return err
	}
	m.lastSent = time.Now()
	m.publishRaw(schema.DirectionOutbound, msgType, seq, raw)
	return nil
}

func (m *StateMachine) onMessage(msg *fix.Message) {
	m.lastRecv = time.Now()
	m.testReqPending = false
	m.publishRaw(schema.DirectionInbound, msg.Type, msg.SeqNum, msg.Raw)

	// Sequence resets carry their own sequencing semantics.
	if msg.Type == fix.MsgTypeSequenceReset {
		m.onSequenceReset(msg)
		return
	}

	exp := m.sess.ExpectedInbound()
	if msg.SeqNum < exp {
		logs.Infof("session %s: drop duplicate inbound seq %d, expecting %d", m.cfg.Name, msg.SeqNum, exp)
		return
	}
	if msg.SeqNum > exp {
		// The logon acknowledgement is processed even across a gap so the
		// session comes up before recovery; everything else is discarded
		// and recovered through the resend.
		if msg.Type == fix.MsgTypeLogon {
			m.handleLogon(msg)
		}
		m.requestResend(exp, msg.SeqNum)
		return
	}
	if err := m.sess.SetInbound(msg.SeqNum + 1); err != nil {
		m.drop(err)
		return
	}
	m.maybeGapFilled()
	m.handle(msg)
}

func (m *StateMachine) handle(msg *fix.Message) {
	switch msg.Type {
	case fix.MsgTypeLogon:
		m.handleLogon(msg)
	case fix.MsgTypeHeartbeat:
		// Activity already recorded.
	case fix.MsgTypeTestRequest:
		body := fix.Fields{}.AddIfSet(fix.TagTestReqID, msg.String(fix.TagTestReqID))
		if err := m.send(fix.MsgTypeHeartbeat, body); err != nil {
			m.drop(err)
		}
	case fix.MsgTypeResendRequest:
		m.handleResendRequest(msg)
	case fix.MsgTypeLogout:
		m.handleLogout()
	case fix.MsgTypeReject, fix.MsgTypeBusinessReject:
		logs.Errorf("session %s: counterparty reject on seq %s: %s",
			m.cfg.Name, msg.String(fix.TagRefSeqNum), msg.String(fix.TagText))
	default:
		if m.onApp != nil {
			m.onApp(m.cfg.Name, msg)
		}
	}
}

func (m *StateMachine) handleLogon(msg *fix.Message) {
	if st := m.State(); st != schema.SessionConnecting {
		logs.Infof("session %s: unexpected logon in state %s", m.cfg.Name, st)
		return
	}
	m.logonDeadline = time.Time{}

	if theirNext, ok := msg.Uint(fix.TagNextExpectedSeqNum); ok && theirNext > 0 {
		next := m.sess.PeekOutbound()
		switch {
		case theirNext < next:
			// The counterparty never saw some of what we sent. Announce the
			// realignment and rewind the counter so the next business
			// message carries the number it expects.
			body := fix.Fields{}.
				Add(fix.TagGapFillFlag, "N").
				Add(fix.TagNewSeqNo, strconv.FormatUint(theirNext, 10))
			if err := m.sendWithSeq(fix.MsgTypeSequenceReset, body, next, false); err != nil {
				m.drop(err)
				return
			}
			if err := m.sess.RewindOutbound(theirNext); err != nil {
				m.drop(err)
				return
			}
			logs.Infof("session %s: outbound sequence rewound from %d to %d", m.cfg.Name, next, theirNext)
		case theirNext > next:
			// They already hold more than we remember sending; jump forward
			// rather than replaying numbers they will reject as duplicates.
			if err := m.sess.RewindOutbound(theirNext); err != nil {
				m.drop(err)
				return
			}
			logs.Infof("session %s: outbound sequence advanced from %d to %d", m.cfg.Name, next, theirNext)
		}
	}

	if err := m.sess.MarkLogon(time.Now()); err != nil {
		m.drop(err)
		return
	}
	m.transition(schema.SessionLoggedOn, nil)
}

func (m *StateMachine) handleLogout() {
	if !m.logoutWanted {
		// Counterparty initiated; acknowledge before closing.
		_ = m.send(fix.MsgTypeLogout, nil)
	}
	m.drop(nil)
}

// handleResendRequest answers a counterparty resend with a single gap fill
// covering the whole requested range. Administrative traffic is never
// replayed and business state is recovered at the application level.
func (m *StateMachine) handleResendRequest(msg *fix.Message) {
	begin, ok := msg.Uint(fix.TagBeginSeqNo)
	if !ok || begin == 0 {
		logs.Errorf("session %s: resend request without begin seq", m.cfg.Name)
		return
	}
	next := m.sess.PeekOutbound()
	body := fix.Fields{}.
		Add(fix.TagGapFillFlag, "Y").
		Add(fix.TagNewSeqNo, strconv.FormatUint(next, 10))
	if err := m.sendWithSeq(fix.MsgTypeSequenceReset, body, begin, true); err != nil {
		m.drop(err)
	}
}

func (m *StateMachine) onSequenceReset(msg *fix.Message) {
	newSeq, ok := msg.Uint(fix.TagNewSeqNo)
	if !ok {
		logs.Errorf("session %s: sequence reset without new seq", m.cfg.Name)
		return
	}
	exp := m.sess.ExpectedInbound()
	if newSeq < exp {
		logs.Infof("session %s: ignore sequence reset to %d below expected %d", m.cfg.Name, newSeq, exp)
		return
	}
	if err := m.sess.SetInbound(newSeq); err != nil {
		m.drop(err)
		return
	}
	logs.Infof("session %s: inbound sequence reset to %d", m.cfg.Name, newSeq)
	m.maybeGapFilled()
}

// requestResend opens sequence recovery for inbound messages [from, saw].
// The request is open-ended so late gaps collapse into one recovery pass.
func (m *StateMachine) requestResend(from, saw uint64) {
	if saw+1 > m.gapHigh {
		m.gapHigh = saw + 1
	}
	if m.State() == schema.SessionResendInProgress {
		return
	}
	body := fix.Fields{}.
		Add(fix.TagBeginSeqNo, strconv.FormatUint(from, 10)).
		Add(fix.TagEndSeqNo, "0")
	if err := m.send(fix.MsgTypeResendRequest, body); err != nil {
		m.drop(err)
		return
	}
	m.resendDeadline = time.Now().Add(m.cfg.ResendTimeout)
	m.transition(schema.SessionResendInProgress, nil)
}

func (m *StateMachine) maybeGapFilled() {
	if m.State() != schema.SessionResendInProgress {
		return
	}
	if m.sess.ExpectedInbound() >= m.gapHigh {
		m.gapHigh = 0
		m.transition(schema.SessionLoggedOn, nil)
	}
}

func (m *StateMachine) onTransportError(err error) {
	if m.State() == schema.SessionDisconnected {
		return
	}
	m.drop(err)
}

func (m *StateMachine) onTick(now time.Time) {
	switch m.State() {
	case schema.SessionConnecting:
		if !m.logonDeadline.IsZero() && now.After(m.logonDeadline) {
			m.drop(errors.Wrap(exception.ErrLogonTimeout, "no logon acknowledgement").With("session", m.cfg.Name))
		}
	case schema.SessionDisconnecting:
		if now.After(m.logoutDeadline) {
			m.drop(nil)
		}
	case schema.SessionLoggedOn, schema.SessionResendInProgress:
		if m.State() == schema.SessionResendInProgress && now.After(m.resendDeadline) {
			m.drop(errors.Wrap(exception.ErrResendTimeout, "gap never filled").With("session", m.cfg.Name))
			return
		}
		hb := m.cfg.HeartbeatInterval
		if m.testReqPending {
			if now.Sub(m.testReqAt) >= hb {
				m.drop(errors.Wrap(exception.ErrTestRequestTimeout, "counterparty silent").With("session", m.cfg.Name))
				return
			}
		} else if now.Sub(m.lastRecv) >= 2*hb {
			id := strconv.FormatInt(now.UnixMilli(), 10)
			if err := m.send(fix.MsgTypeTestRequest, fix.Fields{}.Add(fix.TagTestReqID, id)); err != nil {
				m.drop(err)
				return
			}
			m.testReqPending = true
			m.testReqAt = now
		}
		if now.Sub(m.lastSent) >= hb {
			if err := m.send(fix.MsgTypeHeartbeat, nil); err != nil {
				m.drop(err)
			}
		}
	}
}

// drop closes the transport and lands the session in Disconnected. A
// non-nil cause marks the teardown as a connection failure.
func (m *StateMachine) drop(cause error) {
	st := m.State()
	if st == schema.SessionDisconnected {
		return
	}
	if st != schema.SessionDisconnecting {
		m.transition(schema.SessionDisconnecting, cause)
	}
	_ = m.transport.Close()
	m.gapHigh = 0
	m.testReqPending = false
	m.logonDeadline = time.Time{}
	m.transition(schema.SessionDisconnected, cause)
}

func (m *StateMachine) transition(to schema.SessionState, cause error) {
	from := m.State()
	if from == to {
		return
	}
	m.state.Store(uint32(to))
	if cause != nil {
		logs.Errorf("session %s: %s -> %s: %s", m.cfg.Name, from, to, cause)
	} else {
		logs.Infof("session %s: %s -> %s", m.cfg.Name, from, to)
	}
	if m.bus != nil {
		m.bus.SessionState(m.cfg.Name, from, to, cause)
	}
}

func (m *StateMachine) publishRaw(dir schema.Direction, msgType string, seq uint64, raw []byte) {
	if m.rec != nil {
		m.rec.Record(m.cfg.Name, dir, msgType, seq, raw)
	}
	if m.bus != nil {
		m.bus.RawMessage(m.cfg.Name, dir, msgType, seq, raw)
	}
}
