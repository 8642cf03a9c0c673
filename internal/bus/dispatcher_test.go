package bus

import (
	"sync"
	"testing"
	"time"

	"main/internal/schema"
)

func TestDispatcherDelivers(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var mu sync.Mutex
	var got []schema.Event
	done := make(chan struct{})
	err := d.Subscribe("ui", 8, func(e schema.Event) {
		mu.Lock()
		got = append(got, e)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	d.SessionState("a", schema.SessionDisconnected, schema.SessionConnecting, nil)
	d.OrderUpdate(schema.Order{Session: "a", ClOrdID: "O1", Status: schema.OrderStatusSent})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Type != schema.EventSessionState || got[1].Type != schema.EventOrderUpdate {
		t.Fatalf("event order mismatch: %v %v", got[0].Type, got[1].Type)
	}
	if got[0].Seq >= got[1].Seq {
		t.Fatalf("event seq not increasing: %d %d", got[0].Seq, got[1].Seq)
	}
}

func TestDispatcherDropsOldestWhenFull(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []uint64
	err := d.Subscribe("slow", 2, func(e schema.Event) {
		<-release
		mu.Lock()
		seen = append(seen, e.Raw.SeqNum)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// First event is picked up by the pump and parks in the handler; the
	// ring then holds at most 2 of the rest.
	for i := uint64(1); i <= 6; i++ {
		d.RawMessage("a", schema.DirectionInbound, "0", i, []byte("x"))
	}
	// Give the pump time to park and the ring time to overflow.
	time.Sleep(100 * time.Millisecond)
	close(release)
	time.Sleep(200 * time.Millisecond)

	if dropped := d.Dropped("slow"); dropped == 0 {
		t.Fatal("expected drops on a full ring")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no events delivered")
	}
	// The newest event always survives the drop-oldest policy.
	if seen[len(seen)-1] != 6 {
		t.Fatalf("newest event lost: tail %d", seen[len(seen)-1])
	}
}

func TestDispatcherDuplicateConsumer(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()
	if err := d.Subscribe("ui", 1, func(schema.Event) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := d.Subscribe("ui", 1, func(schema.Event) {}); err != ErrConsumerExists {
		t.Fatalf("expected ErrConsumerExists, got %v", err)
	}
}

func TestDispatcherPublishNeverBlocks(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()
	block := make(chan struct{})
	defer close(block)
	if err := d.Subscribe("stuck", 1, func(schema.Event) { <-block }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	doneCh := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			d.SessionState("a", schema.SessionLoggedOn, schema.SessionLoggedOn, nil)
		}
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a stuck consumer")
	}
}
