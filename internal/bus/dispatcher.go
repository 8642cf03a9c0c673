/*
Bus fans session and order events out to external consumers.

# Module
  - dispatcher: per-consumer bounded ring with a pump goroutine

# Source
  - session state changes from session state machines
  - order updates from the order registry
  - raw wire messages from connection managers

# Produce
  - events to registered consumers (the presentation layer)

# Sharded
  - none; consumers are isolated from each other and from protocol threads
*/
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/schema"

	"github.com/eapache/queue"
)

var (
	ErrConsumerExists  = errors.New("bus: consumer already registered")
	ErrNilHandler      = errors.New("bus: nil handler")
	ErrDispatcherClose = errors.New("bus: dispatcher closed")
)

const defaultQueueCapacity = 1024

// consumer owns one bounded ring and the goroutine draining it.
type consumer struct {
	name     string
	capacity int
	handler  func(schema.Event)

	mu      sync.Mutex
	ring    *queue.Queue
	notify  chan struct{}
	done    chan struct{}
	stopped sync.WaitGroup
	dropped uint64
}

// Dispatcher delivers events to registered consumers without ever blocking
// the publishing protocol goroutine. A full consumer ring drops its oldest
// event and counts the loss: protocol liveness wins over consumer freshness.
type Dispatcher struct {
	mu        sync.RWMutex
	consumers map[string]*consumer
	seq       uint64
	closed    atomic.Bool
}

// NewDispatcher creates a dispatcher with no consumers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{consumers: make(map[string]*consumer)}
}

// Subscribe registers a consumer with a bounded queue. The handler runs on
// the consumer's own goroutine; a slow handler only costs that consumer
// events.
func (d *Dispatcher) Subscribe(name string, capacity int, handler func(schema.Event)) error {
	if handler == nil {
		return ErrNilHandler
	}
	if d.closed.Load() {
		return ErrDispatcherClose
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}

	c := &consumer{
		name:     name,
		capacity: capacity,
		handler:  handler,
		ring:     queue.New(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	if _, exists := d.consumers[name]; exists {
		d.mu.Unlock()
		return ErrConsumerExists
	}
	d.consumers[name] = c
	d.mu.Unlock()

	c.stopped.Add(1)
	go c.pump()
	return nil
}

// Unsubscribe removes a consumer and waits for its pump to stop.
func (d *Dispatcher) Unsubscribe(name string) {
	d.mu.Lock()
	c, ok := d.consumers[name]
	if ok {
		delete(d.consumers, name)
	}
	d.mu.Unlock()
	if ok {
		close(c.done)
		c.stopped.Wait()
	}
}

// Publish hands an event to every consumer. Never blocks.
func (d *Dispatcher) Publish(e schema.Event) {
	if d.closed.Load() {
		return
	}
	e.Seq = atomic.AddUint64(&d.seq, 1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.consumers {
		c.push(e)
	}
}

// SessionState publishes a session state change event.
func (d *Dispatcher) SessionState(session string, from, to schema.SessionState, err error) {
	d.Publish(schema.Event{
		Type: schema.EventSessionState,
		Session: &schema.SessionEvent{
			Session: session,
			From:    from,
			To:      to,
			Err:     err,
			At:      time.Now(),
		},
	})
}

// OrderUpdate publishes an order lifecycle update event.
func (d *Dispatcher) OrderUpdate(order schema.Order) {
	d.Publish(schema.Event{
		Type:  schema.EventOrderUpdate,
		Order: &schema.OrderEvent{Order: order, At: time.Now()},
	})
}

// RawMessage publishes one raw wire message for audit consumers.
func (d *Dispatcher) RawMessage(session string, dir schema.Direction, msgType string, seqNum uint64, raw []byte) {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	d.Publish(schema.Event{
		Type: schema.EventRawMessage,
		Raw: &schema.RawMessageEvent{
			Session:   session,
			Direction: dir,
			MsgType:   msgType,
			SeqNum:    seqNum,
			Raw:       cp,
			At:        time.Now(),
		},
	})
}

// Dropped returns the loss counter for a consumer.
func (d *Dispatcher) Dropped(name string) uint64 {
	d.mu.RLock()
	c, ok := d.consumers[name]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&c.dropped)
}

// Close stops all consumers. Events published after Close are discarded.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.mu.Lock()
	consumers := d.consumers
	d.consumers = make(map[string]*consumer)
	d.mu.Unlock()

	for _, c := range consumers {
		close(c.done)
		c.stopped.Wait()
	}
}

func (c *consumer) push(e schema.Event) {
	c.mu.Lock()
	if c.ring.Length() >= c.capacity {
		c.ring.Remove()
		atomic.AddUint64(&c.dropped, 1)
	}
	c.ring.Add(e)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *consumer) pump() {
	defer c.stopped.Done()
	for {
		select {
		case <-c.done:
			c.drain()
			return
		case <-c.notify:
			c.drain()
		}
	}
}

func (c *consumer) drain() {
	for {
		c.mu.Lock()
		if c.ring.Length() == 0 {
			c.mu.Unlock()
			return
		}
		e := c.ring.Remove().(schema.Event)
		c.mu.Unlock()
		c.handler(e)
	}
}
