/*
Engine owns the full set of sessions and the command surface over them.

# Module
  - Coordinator: session map, order routing, lifecycle commands
  - BuildStore: sequence store construction from config

# Source
  - operator commands from the admin socket and cmd flags
  - application messages handed up by the sessions

# Produce
  - session and order commands routed to the right session
  - engine metrics folded from bus events

# Sharded
  - sessions are isolated: a failure in one never touches another
*/
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/bus"
	"main/internal/conn"
	"main/internal/fix"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/order"
	"main/internal/schema"
	"main/internal/session"
	"main/internal/store"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const metricsConsumer = "engine.metrics"

// Options wires the coordinator's collaborators. Dialer is overridable for
// tests; nil means plain TCP.
type Options struct {
	Sessions []ops.ResolvedSession
	Store    store.Store
	Bus      *bus.Dispatcher
	Journal  *journal.Journal
	Metrics  *obs.Metrics
	Dialer   conn.Dialer
}

// SessionInfo is one row of the session listing.
type SessionInfo struct {
	Name        string              `json:"name"`
	State       string              `json:"state"`
	OutboundSeq uint64              `json:"outbound_seq"`
	InboundSeq  uint64              `json:"inbound_seq"`
	LastLogon   time.Time           `json:"last_logon"`
	StateValue  schema.SessionState `json:"-"`
}

type managed struct {
	cfg  session.Config
	sess *session.Session
	sm   *session.StateMachine
	mgr  *conn.Manager

	connectOnStartup bool
}

// Coordinator maps session names to their state machines and routes every
// command to the one session it names. Commands against different sessions
// never contend; a session failure is contained to its own state machine.
type Coordinator struct {
	opts     Options
	sessions map[string]*managed
	registry *order.Registry
	metrics  *obs.Metrics

	started   atomic.Bool
	lastDrops atomic.Uint64
}

// New builds a coordinator from resolved options. Every configured session
// gets its own durable counters, state machine, and transport.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil || opts.Bus == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "coordinator requires a store and a bus")
	}
	if opts.Metrics == nil {
		opts.Metrics = obs.NewMetrics()
	}

	c := &Coordinator{
		opts:     opts,
		sessions: make(map[string]*managed, len(opts.Sessions)),
		metrics:  opts.Metrics,
	}
	c.registry = order.NewRegistry(c, opts.Bus, nil)

	var rec session.Recorder
	if opts.Journal != nil {
		rec = opts.Journal
	}
	for _, rs := range opts.Sessions {
		name := rs.Config.Name
		if _, dup := c.sessions[name]; dup {
			return nil, errors.Wrap(exception.ErrInvalidArgument, "duplicate session name").With("session", name)
		}
		sess, err := session.NewSession(name, opts.Store)
		if err != nil {
			return nil, err
		}
		sm := session.NewStateMachine(rs.Config, sess, opts.Bus, rec)
		mgr := conn.NewManager(rs.Config.Addr(), opts.Dialer, sm)
		mgr.WriteTimeout = rs.Config.HeartbeatInterval
		sm.Bind(mgr)
		sm.SetAppHandler(c.onAppMessage)
		c.sessions[name] = &managed{
			cfg:              rs.Config,
			sess:             sess,
			sm:               sm,
			mgr:              mgr,
			connectOnStartup: rs.ConnectOnStartup,
		}
	}
	return c, nil
}

// Start runs every session loop and connects the sessions marked for
// startup. A failed startup connect is logged and isolated; the rest of the
// engine comes up regardless.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already started")
	}
	if err := c.subscribeMetrics(); err != nil {
		return err
	}
	for _, m := range c.sessions {
		go m.sm.Run(ctx)
	}
	for name, m := range c.sessions {
		if !m.connectOnStartup {
			continue
		}
		if err := m.sm.Connect(); err != nil {
			logs.Errorf("engine: startup connect %s failed: %s", name, err)
		}
	}
	return nil
}

// Shutdown logs every active session out concurrently, waiting up to
// timeout per session for a clean disconnect.
func (c *Coordinator) Shutdown(timeout time.Duration) {
	var wg sync.WaitGroup
	for name, m := range c.sessions {
		if m.sm.State() == schema.SessionDisconnected {
			continue
		}
		wg.Add(1)
		go func(name string, m *managed) {
			defer wg.Done()
			if err := m.sm.Disconnect(); err != nil {
				logs.Errorf("engine: disconnect %s: %s", name, err)
			}
			if !m.sm.AwaitState(schema.SessionDisconnected, timeout) {
				logs.Errorf("engine: %s did not disconnect within %s", name, timeout)
				_ = m.mgr.Close()
			}
		}(name, m)
	}
	wg.Wait()
}

// ListSessions returns one row per configured session, sorted by name.
func (c *Coordinator) ListSessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(c.sessions))
	for name, m := range c.sessions {
		rec := m.sess.Counters()
		out = append(out, SessionInfo{
			Name:        name,
			State:       m.sm.State().String(),
			StateValue:  m.sm.State(),
			OutboundSeq: rec.OutboundSeq,
			InboundSeq:  rec.InboundSeq,
			LastLogon:   rec.LastLogon,
		})
	}
	sortSessionInfo(out)
	return out
}

// Connect initiates a logon for one session.
func (c *Coordinator) Connect(name string) error {
	m, err := c.session(name)
	if err != nil {
		return err
	}
	return m.sm.Connect()
}

// Disconnect initiates a graceful logout for one session.
func (c *Coordinator) Disconnect(name string) error {
	m, err := c.session(name)
	if err != nil {
		return err
	}
	return m.sm.Disconnect()
}

// SubmitOrder validates and sends a new order on one session.
func (c *Coordinator) SubmitOrder(name string, req order.SubmitRequest) (schema.Order, error) {
	if _, err := c.session(name); err != nil {
		return schema.Order{}, err
	}
	return c.registry.Submit(name, req)
}

// ReplaceOrder amends a working order's quantity and price.
func (c *Coordinator) ReplaceOrder(name, clOrdID string, qty, price decimal.Decimal) (schema.Order, error) {
	if _, err := c.session(name); err != nil {
		return schema.Order{}, err
	}
	return c.registry.Replace(name, clOrdID, qty, price)
}

// CancelOrder requests cancellation of a working order.
func (c *Coordinator) CancelOrder(name, clOrdID string) (schema.Order, error) {
	if _, err := c.session(name); err != nil {
		return schema.Order{}, err
	}
	return c.registry.Cancel(name, clOrdID)
}

// ListOrders returns the registry's view, optionally filtered by session.
func (c *Coordinator) ListOrders(name string) ([]schema.Order, error) {
	if name != "" {
		if _, err := c.session(name); err != nil {
			return nil, err
		}
	}
	return c.registry.List(name), nil
}

// Stats folds the dispatcher's loss counters in and snapshots the metrics.
func (c *Coordinator) Stats() obs.Snapshot {
	drops := c.opts.Bus.Dropped(metricsConsumer)
	if c.opts.Journal != nil {
		drops += c.opts.Journal.Dropped()
	}
	prev := c.lastDrops.Swap(drops)
	if drops > prev {
		c.metrics.AddBusDrops(drops - prev)
	}
	return c.metrics.Snapshot()
}

// JournalTail returns the most recent journaled wire messages.
func (c *Coordinator) JournalTail(n int) []journal.Entry {
	if c.opts.Journal == nil {
		return nil
	}
	return c.opts.Journal.Tail(n)
}

// Send implements the order registry's transmitter: route to the named
// session's state machine.
func (c *Coordinator) Send(name, msgType string, body fix.Fields) error {
	m, err := c.session(name)
	if err != nil {
		return err
	}
	return m.sm.Send(msgType, body)
}

func (c *Coordinator) session(name string) (*managed, error) {
	if m, ok := c.sessions[name]; ok {
		return m, nil
	}
	return nil, errors.Wrap(exception.ErrUnknownSession, "no such session").With("session", name)
}

// onAppMessage feeds counterparty application traffic into the registry.
// Registry errors are contained here: an unmatched report never takes the
// session down.
func (c *Coordinator) onAppMessage(name string, msg *fix.Message) {
	switch msg.Type {
	case fix.MsgTypeExecutionReport:
		if _, err := c.registry.ApplyExecutionReport(name, msg); err != nil {
			logs.Errorf("engine: %s execution report seq %d: %s", name, msg.SeqNum, err)
		}
	case fix.MsgTypeOrderCancelReject:
		if _, err := c.registry.ApplyCancelReject(name, msg); err != nil {
			logs.Errorf("engine: %s cancel reject seq %d: %s", name, msg.SeqNum, err)
		}
	default:
		logs.Infof("engine: %s unhandled %s seq %d", name, fix.MsgTypeName(msg.Type), msg.SeqNum)
	}
}

// subscribeMetrics folds bus traffic into the engine counters. The handler
// runs on the dispatcher's pump goroutine, so the connect-time map needs no
// lock.
func (c *Coordinator) subscribeMetrics() error {
	connecting := make(map[string]time.Time)
	return c.opts.Bus.Subscribe(metricsConsumer, 1024, func(e schema.Event) {
		switch e.Type {
		case schema.EventRawMessage:
			if e.Raw == nil {
				return
			}
			if e.Raw.Direction == schema.DirectionInbound {
				c.metrics.IncInbound()
			} else {
				c.metrics.IncOutbound()
			}
		case schema.EventSessionState:
			if e.Session == nil {
				return
			}
			switch e.Session.To {
			case schema.SessionConnecting:
				connecting[e.Session.Session] = e.Session.At
			case schema.SessionLoggedOn:
				c.metrics.IncLogon()
				if at, ok := connecting[e.Session.Session]; ok {
					c.metrics.ObserveLogon(e.Session.At.Sub(at))
					delete(connecting, e.Session.Session)
				}
			case schema.SessionDisconnected:
				c.metrics.IncDisconnect()
				if e.Session.Err != nil {
					c.metrics.IncSessionError()
				}
				delete(connecting, e.Session.Session)
			}
		case schema.EventOrderUpdate:
			c.metrics.IncOrderUpdate()
		}
	})
}

func sortSessionInfo(infos []SessionInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}

// BuildStore opens the sequence store selected by config.
func BuildStore(cfg ops.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", ops.StoreMemory:
		return store.NewMemory(), nil
	case ops.StoreFile:
		return store.NewFile(cfg.Path)
	case ops.StorePebble:
		return store.NewPebble(cfg.Path)
	case ops.StorePostgres:
		return store.NewPostgres(cfg.Postgres)
	default:
		return nil, errors.Wrap(exception.ErrInvalidArgument, "unknown store backend").With("backend", cfg.Backend)
	}
}
