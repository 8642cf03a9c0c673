package engine

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"

	"main/internal/journal"
	"main/internal/obs"
	"main/internal/order"
	"main/internal/schema"
	"main/pkg/uds"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Admin serves line-delimited JSON commands on a Unix socket: one request
// per line, one response per line. Meant for local operator tooling.
type Admin struct {
	srv   *uds.Server
	coord *Coordinator

	wg     sync.WaitGroup
	closed atomic.Bool
}

type adminRequest struct {
	Op      string `json:"op"`
	Session string `json:"session"`
	ClOrdID string `json:"clOrdId"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Type    string `json:"type"`
	Qty     string `json:"qty"`
	Price   string `json:"price"`
	Count   int    `json:"count"`
}

type adminResponse struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Sessions []SessionInfo   `json:"sessions,omitempty"`
	Orders   []schema.Order  `json:"orders,omitempty"`
	Order    *schema.Order   `json:"order,omitempty"`
	Stats    *obs.Snapshot   `json:"stats,omitempty"`
	Journal  []journal.Entry `json:"journal,omitempty"`
}

// NewAdmin creates the admin listener for the given socket path.
func NewAdmin(socket string, coord *Coordinator) (*Admin, error) {
	srv, err := uds.NewServer(socket)
	if err != nil {
		return nil, err
	}
	return &Admin{srv: srv, coord: coord}, nil
}

// Start listens on the socket and serves connections until Close.
func (a *Admin) Start(ctx context.Context) error {
	if err := a.srv.Listen(); err != nil {
		return errors.Wrap(err, "listen admin socket")
	}
	logs.Infof("admin: listening on %s", a.srv.Path())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-ctx.Done()
		_ = a.srv.Close()
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			c, err := a.srv.Accept()
			if err != nil {
				if !a.closed.Load() && ctx.Err() == nil {
					logs.Errorf("admin: accept: %s", err)
				}
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.serve(c)
			}()
		}
	}()
	return nil
}

// Close stops the listener and waits for in-flight connections.
func (a *Admin) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	_ = a.srv.Close()
	a.wg.Wait()
}

func (a *Admin) serve(c net.Conn) {
	defer c.Close()

	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	w := bufio.NewWriter(c)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := a.dispatch(line)
		out, err := sonic.Marshal(resp)
		if err != nil {
			logs.Errorf("admin: marshal response: %s", err)
			return
		}
		if _, err := w.Write(out); err != nil {
			return
		}
		if err := w.WriteByte('\n'); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (a *Admin) dispatch(line []byte) adminResponse {
	var req adminRequest
	if err := sonic.Unmarshal(line, &req); err != nil {
		return fail(errors.Wrap(err, "parse request"))
	}

	switch req.Op {
	case "sessions":
		return adminResponse{OK: true, Sessions: a.coord.ListSessions()}
	case "connect":
		if err := a.coord.Connect(req.Session); err != nil {
			return fail(err)
		}
		return adminResponse{OK: true}
	case "disconnect":
		if err := a.coord.Disconnect(req.Session); err != nil {
			return fail(err)
		}
		return adminResponse{OK: true}
	case "submit":
		return a.submit(req)
	case "replace":
		return a.replace(req)
	case "cancel":
		o, err := a.coord.CancelOrder(req.Session, req.ClOrdID)
		if err != nil {
			return fail(err)
		}
		return adminResponse{OK: true, Order: &o}
	case "orders":
		orders, err := a.coord.ListOrders(req.Session)
		if err != nil {
			return fail(err)
		}
		return adminResponse{OK: true, Orders: orders}
	case "stats":
		s := a.coord.Stats()
		return adminResponse{OK: true, Stats: &s}
	case "journal":
		return adminResponse{OK: true, Journal: a.coord.JournalTail(req.Count)}
	default:
		return fail(errors.Errorf("unknown op %q", req.Op))
	}
}

func (a *Admin) submit(req adminRequest) adminResponse {
	qty, err := parseDecimal(req.Qty)
	if err != nil {
		return fail(err)
	}
	price := decimal.Zero
	if req.Price != "" {
		if price, err = parseDecimal(req.Price); err != nil {
			return fail(err)
		}
	}
	o, err := a.coord.SubmitOrder(req.Session, order.SubmitRequest{
		ClOrdID: req.ClOrdID,
		Symbol:  req.Symbol,
		Side:    schema.Side(req.Side),
		Type:    schema.OrdType(req.Type),
		Qty:     qty,
		Price:   price,
	})
	if err != nil {
		return fail(err)
	}
	return adminResponse{OK: true, Order: &o}
}

func (a *Admin) replace(req adminRequest) adminResponse {
	qty, err := parseDecimal(req.Qty)
	if err != nil {
		return fail(err)
	}
	price := decimal.Zero
	if req.Price != "" {
		if price, err = parseDecimal(req.Price); err != nil {
			return fail(err)
		}
	}
	o, err := a.coord.ReplaceOrder(req.Session, req.ClOrdID, qty, price)
	if err != nil {
		return fail(err)
	}
	return adminResponse{OK: true, Order: &o}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.New("missing decimal value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse decimal").With("value", s)
	}
	return d, nil
}

func fail(err error) adminResponse {
	return adminResponse{Error: err.Error()}
}
