/*
Order keeps the engine's view of every working and finished order.

# Module
  - Registry: submit, replace, cancel, and execution-report application
  - IDGen: client order id generation

# Source
  - commands from the coordinator
  - execution reports and cancel rejects from the sessions

# Produce
  - order messages to the counterparty via the session transmitter
  - order update events on the bus

# Sharded
  - orders are keyed by (session, client order id); one registry per engine
*/
package order

import (
	"sort"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/fix"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Transmitter sends one application message on a named session. The send
// fails when the session is not logged on.
type Transmitter interface {
	Send(session, msgType string, body fix.Fields) error
}

// SubmitRequest describes a new order. ClOrdID is generated when empty.
type SubmitRequest struct {
	ClOrdID string
	Symbol  string
	Side    schema.Side
	Type    schema.OrdType
	Qty     decimal.Decimal
	Price   decimal.Decimal
	Tags    map[int]string
}

type key struct {
	session string
	clOrdID string
}

// entry is the registry's mutable record for one order. notional accumulates
// LastPx weighted by fill deltas so the average price survives resends and
// out-of-order reports.
type entry struct {
	order      schema.Order
	notional   decimal.Decimal
	prevStatus schema.OrderStatus

	pendingNew   string
	pendingQty   decimal.Decimal
	pendingPrice decimal.Decimal
}

// Registry owns every order the engine has submitted, keyed by session and
// client order id. All mutation happens under one lock; handed-out orders
// are copies.
type Registry struct {
	tx  Transmitter
	bus *bus.Dispatcher
	ids *IDGen

	mu     sync.RWMutex
	orders map[key]*entry
}

func NewRegistry(tx Transmitter, d *bus.Dispatcher, ids *IDGen) *Registry {
	if ids == nil {
		ids = NewIDGen("ord")
	}
	return &Registry{
		tx:     tx,
		bus:    d,
		ids:    ids,
		orders: make(map[key]*entry),
	}
}

// Submit validates the request, sends a new order to the counterparty, and
// registers it with status Sent.
func (r *Registry) Submit(session string, req SubmitRequest) (schema.Order, error) {
	if err := validate(req); err != nil {
		return schema.Order{}, err
	}
	if req.ClOrdID == "" {
		req.ClOrdID = r.ids.Next()
	}

	r.mu.Lock()
	k := key{session: session, clOrdID: req.ClOrdID}
	if _, ok := r.orders[k]; ok {
		r.mu.Unlock()
		return schema.Order{}, errors.Wrap(exception.ErrOrderDuplicateID, "client order id already used").
			With("session", session).
			With("cl_ord_id", req.ClOrdID)
	}
	now := time.Now()
	e := &entry{
		order: schema.Order{
			Session:   session,
			ClOrdID:   req.ClOrdID,
			Symbol:    req.Symbol,
			Side:      req.Side,
			Type:      req.Type,
			Qty:       req.Qty,
			Price:     req.Price,
			Tags:      cloneTags(req.Tags),
			Status:    schema.OrderStatusSent,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	r.orders[k] = e
	r.mu.Unlock()

	body := fix.Fields{}.
		Add(fix.TagClOrdID, req.ClOrdID).
		Add(fix.TagHandlInst, "1").
		Add(fix.TagSymbol, req.Symbol).
		Add(fix.TagSide, string(req.Side)).
		Add(fix.TagOrderQty, req.Qty.String()).
		Add(fix.TagOrdType, string(req.Type))
	if req.Type.RequiresPrice() {
		body = body.Add(fix.TagPrice, req.Price.String())
	}
	for tag, value := range req.Tags {
		body = body.AddIfSet(tag, value)
	}

	if err := r.tx.Send(session, fix.MsgTypeNewOrderSingle, body); err != nil {
		r.mu.Lock()
		delete(r.orders, k)
		r.mu.Unlock()
		return schema.Order{}, err
	}

	out := copyOrder(e.order)
	r.publish(out)
	return out, nil
}

// Replace requests a quantity/price amendment. Only orders in New or
// PartialFill accept a replace; the order parks in PendingReplace until the
// counterparty answers.
func (r *Registry) Replace(session, clOrdID string, qty, price decimal.Decimal) (schema.Order, error) {
	r.mu.Lock()
	e, ok := r.orders[key{session: session, clOrdID: clOrdID}]
	if !ok {
		r.mu.Unlock()
		return schema.Order{}, unmatched(session, clOrdID)
	}
	if !e.order.Status.Replaceable() {
		st := e.order.Status
		r.mu.Unlock()
		sentinel := exception.ErrOrderNotReplaceable
		if st.Terminal() {
			sentinel = exception.ErrOrderTerminal
		}
		return schema.Order{}, errors.Wrap(sentinel, "order not replaceable").
			With("session", session).
			With("cl_ord_id", clOrdID).
			With("status", st.String())
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		r.mu.Unlock()
		return schema.Order{}, errors.Wrap(exception.ErrOrderValidation, "replace quantity must be positive")
	}

	newID := r.ids.Next()
	e.prevStatus = e.order.Status
	e.order.Status = schema.OrderStatusPendingReplace
	e.order.UpdatedAt = time.Now()
	e.pendingNew = newID
	e.pendingQty = qty
	e.pendingPrice = price
	snapshot := copyOrder(e.order)
	body := fix.Fields{}.
		Add(fix.TagOrigClOrdID, clOrdID).
		Add(fix.TagClOrdID, newID).
		Add(fix.TagHandlInst, "1").
		Add(fix.TagSymbol, e.order.Symbol).
		Add(fix.TagSide, string(e.order.Side)).
		Add(fix.TagOrderQty, qty.String()).
		Add(fix.TagOrdType, string(e.order.Type))
	if e.order.Type.RequiresPrice() {
		body = body.Add(fix.TagPrice, price.String())
	}
	r.mu.Unlock()

	if err := r.tx.Send(session, fix.MsgTypeOrderCancelReplace, body); err != nil {
		r.restore(session, clOrdID)
		return schema.Order{}, err
	}
	r.publish(snapshot)
	return snapshot, nil
}

// Cancel requests cancellation. Only orders in New or PartialFill accept a
// cancel; the order parks in PendingCancel until the counterparty answers.
func (r *Registry) Cancel(session, clOrdID string) (schema.Order, error) {
	r.mu.Lock()
	e, ok := r.orders[key{session: session, clOrdID: clOrdID}]
	if !ok {
		r.mu.Unlock()
		return schema.Order{}, unmatched(session, clOrdID)
	}
	if !e.order.Status.Replaceable() {
		st := e.order.Status
		r.mu.Unlock()
		sentinel := exception.ErrOrderNotCancelable
		if st.Terminal() {
			sentinel = exception.ErrOrderTerminal
		}
		return schema.Order{}, errors.Wrap(sentinel, "order not cancelable").
			With("session", session).
			With("cl_ord_id", clOrdID).
			With("status", st.String())
	}

	cancelID := r.ids.Next()
	e.prevStatus = e.order.Status
	e.order.Status = schema.OrderStatusPendingCancel
	e.order.UpdatedAt = time.Now()
	snapshot := copyOrder(e.order)
	body := fix.Fields{}.
		Add(fix.TagOrigClOrdID, clOrdID).
		Add(fix.TagClOrdID, cancelID).
		Add(fix.TagSymbol, e.order.Symbol).
		Add(fix.TagSide, string(e.order.Side)).
		Add(fix.TagOrderQty, e.order.Qty.String())
	r.mu.Unlock()

	if err := r.tx.Send(session, fix.MsgTypeOrderCancelRequest, body); err != nil {
		r.restore(session, clOrdID)
		return schema.Order{}, err
	}
	r.publish(snapshot)
	return snapshot, nil
}

// ApplyExecutionReport folds one counterparty execution report into the
// matching order. Reports for unknown orders fail with ErrOrderUnmatched;
// reports against terminal orders are ignored.
func (r *Registry) ApplyExecutionReport(session string, msg *fix.Message) (schema.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.lookup(session, msg)
	if !ok {
		return schema.Order{}, unmatched(session, msg.String(fix.TagClOrdID))
	}
	if e.order.Status.Terminal() {
		logs.Infof("order %s/%s: ignore report in terminal state %s",
			session, e.order.ClOrdID, e.order.Status)
		return copyOrder(e.order), nil
	}
	if execID := msg.String(fix.TagExecID); execID != "" && execID == e.order.LastExecID {
		return copyOrder(e.order), nil
	}

	// The counterparty's order id binds on first sight and never changes.
	if id := msg.String(fix.TagOrderID); id != "" {
		if e.order.OrderID == "" {
			e.order.OrderID = id
		} else if e.order.OrderID != id {
			logs.Errorf("order %s/%s: conflicting counterparty id %s, keeping %s",
				session, e.order.ClOrdID, id, e.order.OrderID)
		}
	}

	execType := msg.String(fix.TagExecType)
	if execType == "" {
		execType = msg.String(fix.TagOrdStatus)
	}

	// A fill arriving while the order still awaits its ack means the
	// counterparty skipped the explicit acceptance; realize the New step
	// first so the published lifecycle stays contiguous.
	switch execType {
	case "1", "2", "F":
		if e.order.Status == schema.OrderStatusSent {
			e.order.Status = schema.OrderStatusNew
			e.order.UpdatedAt = time.Now()
			r.publish(copyOrder(e.order))
		}
	}

	r.applyFill(e, msg)

	switch execType {
	case "0": // accepted
		e.order.Status = schema.OrderStatusNew
	case "1": // partial fill
		e.order.Status = schema.OrderStatusPartialFill
	case "2": // fill
		e.order.Status = schema.OrderStatusFilled
	case "F": // trade; resulting status follows the fill arithmetic
		if e.order.CumQty.GreaterThanOrEqual(e.order.Qty) {
			e.order.Status = schema.OrderStatusFilled
		} else {
			e.order.Status = schema.OrderStatusPartialFill
		}
	case "4": // canceled
		e.order.Status = schema.OrderStatusCanceled
	case "8": // rejected
		e.order.Status = schema.OrderStatusRejected
		e.order.Text = msg.String(fix.TagText)
	case "5": // replaced
		return r.applyReplaced(session, e, msg), nil
	case "6":
		e.order.Status = schema.OrderStatusPendingCancel
	case "E":
		e.order.Status = schema.OrderStatusPendingReplace
	default:
		logs.Infof("order %s/%s: unhandled exec type %q", session, e.order.ClOrdID, execType)
	}

	e.order.LastExecID = msg.String(fix.TagExecID)
	e.order.UpdatedAt = time.Now()
	out := copyOrder(e.order)
	r.publish(out)
	return out, nil
}

// ApplyCancelReject restores an order parked in PendingCancel or
// PendingReplace after the counterparty refused the request.
func (r *Registry) ApplyCancelReject(session string, msg *fix.Message) (schema.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.orders[key{session: session, clOrdID: msg.String(fix.TagOrigClOrdID)}]
	if !ok {
		return schema.Order{}, unmatched(session, msg.String(fix.TagOrigClOrdID))
	}

	switch e.order.Status {
	case schema.OrderStatusPendingCancel, schema.OrderStatusPendingReplace:
		e.order.Status = e.prevStatus
		e.pendingNew = ""
	default:
		logs.Infof("order %s/%s: cancel reject in state %s", session, e.order.ClOrdID, e.order.Status)
	}
	e.order.Text = msg.String(fix.TagText)
	e.order.UpdatedAt = time.Now()
	out := copyOrder(e.order)
	r.publish(out)
	return out, nil
}

// Get returns a copy of one order.
func (r *Registry) Get(session, clOrdID string) (schema.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.orders[key{session: session, clOrdID: clOrdID}]
	if !ok {
		return schema.Order{}, false
	}
	return copyOrder(e.order), true
}

// List returns copies of every order, newest first. An empty session matches
// all sessions.
func (r *Registry) List(session string) []schema.Order {
	r.mu.RLock()
	out := make([]schema.Order, 0, len(r.orders))
	for k, e := range r.orders {
		if session != "" && k.session != session {
			continue
		}
		out = append(out, copyOrder(e.order))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ClOrdID < out[j].ClOrdID
	})
	return out
}

// lookup resolves a report to its order: first by the report's client order
// id, then by the original id it references.
func (r *Registry) lookup(session string, msg *fix.Message) (*entry, bool) {
	if e, ok := r.orders[key{session: session, clOrdID: msg.String(fix.TagClOrdID)}]; ok {
		return e, true
	}
	if orig := msg.String(fix.TagOrigClOrdID); orig != "" {
		if e, ok := r.orders[key{session: session, clOrdID: orig}]; ok {
			return e, true
		}
	}
	return nil, false
}

// applyFill advances the cumulative quantity and the fill-weighted average
// price. Reports that do not move CumQty forward leave both untouched.
func (r *Registry) applyFill(e *entry, msg *fix.Message) {
	cum, ok := msg.Decimal(fix.TagCumQty)
	if !ok || cum.LessThanOrEqual(e.order.CumQty) {
		return
	}
	delta := cum.Sub(e.order.CumQty)
	if lastPx, ok := msg.Decimal(fix.TagLastPx); ok && lastPx.GreaterThan(decimal.Zero) {
		e.notional = e.notional.Add(lastPx.Mul(delta))
		e.order.AvgPx = e.notional.Div(cum)
	} else if avg, ok := msg.Decimal(fix.TagAvgPx); ok {
		e.order.AvgPx = avg
		e.notional = avg.Mul(cum)
	}
	e.order.CumQty = cum
}

// applyReplaced closes out the old order and continues the chain under the
// replacement's client order id, carrying fills forward.
func (r *Registry) applyReplaced(session string, e *entry, msg *fix.Message) schema.Order {
	e.order.Status = schema.OrderStatusReplaced
	e.order.LastExecID = msg.String(fix.TagExecID)
	e.order.UpdatedAt = time.Now()
	r.publish(copyOrder(e.order))

	newID := msg.String(fix.TagClOrdID)
	if newID == "" || newID == e.order.ClOrdID {
		newID = e.pendingNew
	}
	if newID == "" {
		logs.Errorf("order %s/%s: replaced without a replacement id", session, e.order.ClOrdID)
		return copyOrder(e.order)
	}

	succ := &entry{
		order:    e.order,
		notional: e.notional,
	}
	succ.order.ClOrdID = newID
	succ.order.OrigClOrdID = e.order.ClOrdID
	succ.order.Status = schema.OrderStatusNew
	if qty, ok := msg.Decimal(fix.TagOrderQty); ok {
		succ.order.Qty = qty
	} else if e.pendingQty.GreaterThan(decimal.Zero) {
		succ.order.Qty = e.pendingQty
	}
	if px, ok := msg.Decimal(fix.TagPrice); ok {
		succ.order.Price = px
	} else if e.pendingPrice.GreaterThan(decimal.Zero) {
		succ.order.Price = e.pendingPrice
	}
	if succ.order.CumQty.GreaterThanOrEqual(succ.order.Qty) {
		succ.order.Status = schema.OrderStatusFilled
	} else if succ.order.CumQty.GreaterThan(decimal.Zero) {
		succ.order.Status = schema.OrderStatusPartialFill
	}
	succ.order.Tags = cloneTags(e.order.Tags)
	succ.order.UpdatedAt = time.Now()
	e.pendingNew = ""

	r.orders[key{session: session, clOrdID: newID}] = succ
	out := copyOrder(succ.order)
	r.publish(out)
	return out
}

func (r *Registry) restore(session, clOrdID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.orders[key{session: session, clOrdID: clOrdID}]; ok {
		e.order.Status = e.prevStatus
		e.pendingNew = ""
	}
}

func (r *Registry) publish(o schema.Order) {
	if r.bus != nil {
		r.bus.OrderUpdate(o)
	}
}

func validate(req SubmitRequest) error {
	switch {
	case req.Symbol == "":
		return errors.Wrap(exception.ErrOrderValidation, "symbol required")
	case !req.Side.IsAvailable():
		return errors.Wrap(exception.ErrOrderValidation, "invalid side").With("side", string(req.Side))
	case !req.Type.IsAvailable():
		return errors.Wrap(exception.ErrOrderValidation, "invalid order type").With("type", string(req.Type))
	case req.Qty.LessThanOrEqual(decimal.Zero):
		return errors.Wrap(exception.ErrOrderValidation, "quantity must be positive").With("qty", req.Qty.String())
	case req.Type.RequiresPrice() && req.Price.LessThanOrEqual(decimal.Zero):
		return errors.Wrap(exception.ErrOrderValidation, "limit order requires a positive price")
	default:
		return nil
	}
}

func unmatched(session, clOrdID string) error {
	return errors.Wrap(exception.ErrOrderUnmatched, "no such order").
		With("session", session).
		With("cl_ord_id", clOrdID)
}

func copyOrder(o schema.Order) schema.Order {
	o.Tags = cloneTags(o.Tags)
	return o
}

func cloneTags(tags map[int]string) map[int]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[int]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
