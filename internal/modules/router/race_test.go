// README: Concurrency tests for same-order event serialization.
package router

import (
	"context"
	"sync"
	"testing"

	"relay/internal/modules/order"
	"relay/internal/types"
)

// Concurrent confirm and cancel presses for the same order: exactly one wins,
// the loser resolves as a duplicate notice, never a second transition.
func TestConcurrentConfirmCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness()
		ctx := context.Background()
		if err := h.svc.Handle(ctx, orderCreatedEvent()); err != nil {
			t.Fatal(err)
		}

		confirm := Event{Type: EventInboundReply, Inbound: &InboundReply{
			SenderPhone: "03001234567",
			Kind:        InboundButton,
			Payload:     "CONFIRM_ORDER:1001",
		}}
		cancel := Event{Type: EventInboundReply, Inbound: &InboundReply{
			SenderPhone: "03001234567",
			Kind:        InboundButton,
			Payload:     "CANCEL_ORDER:1001",
		}}

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, ev := range []Event{confirm, cancel} {
			wg.Add(1)
			go func(ev Event) {
				defer wg.Done()
				errs <- h.svc.Handle(ctx, ev)
			}(ev)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("round %d: %v", i, err)
			}
		}

		o, err := h.orders.Get(ctx, "1001")
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != order.StatusConfirmed && o.Status != order.StatusCancelled {
			t.Fatalf("round %d: status = %s, want confirmed or cancelled", i, o.Status)
		}
		if o.StatusVersion != 1 {
			t.Fatalf("round %d: version = %d, want exactly one transition", i, o.StatusVersion)
		}
	}
}

// Many events for unrelated orders proceed in parallel without contention on a
// shared lock, and each order still lands in a consistent state.
func TestParallelDistinctOrders(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := orderCreatedEvent()
			ref := "20" + string(rune('A'+i%26)) + string(rune('A'+i/26))
			ev.Order.OrderRef = types.ID(ref)
			ev.Order.OrderName = "#" + ref
			if err := h.svc.Handle(ctx, ev); err != nil {
				t.Errorf("create %s: %v", ref, err)
			}
		}(i)
	}
	wg.Wait()

	h.orders.mu.Lock()
	defer h.orders.mu.Unlock()
	if len(h.orders.orders) != n {
		t.Fatalf("stored %d orders, want %d", len(h.orders.orders), n)
	}
	for ref, o := range h.orders.orders {
		if o.Status != order.StatusPendingConfirmation {
			t.Fatalf("order %s status = %s", ref, o.Status)
		}
	}
}
