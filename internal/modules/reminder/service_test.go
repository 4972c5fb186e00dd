// README: Sweep idempotence and threshold tests over in-memory fakes.
package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"relay/internal/modules/checkout"
	"relay/internal/modules/notify"
	"relay/internal/modules/order"
	"relay/internal/modules/router"
)

type memOrderLister struct {
	mu     sync.Mutex
	orders []*order.Order
}

func (m *memOrderLister) ListUnremindedBefore(_ context.Context, cutoff time.Time) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*order.Order
	for _, o := range m.orders {
		if !o.ReminderSent && o.Status == order.StatusPendingConfirmation && o.CreatedAt.Before(cutoff) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memOrderLister) markSent(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if string(o.Ref) == ref {
			o.ReminderSent = true
		}
	}
}

type memCheckoutLister struct {
	mu        sync.Mutex
	checkouts []*checkout.Checkout
}

func (m *memCheckoutLister) ListUnremindedBefore(_ context.Context, cutoff time.Time) ([]*checkout.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*checkout.Checkout
	for _, c := range m.checkouts {
		if !c.Reminded && c.CreatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCheckoutLister) MarkReminded(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checkouts {
		if c.CheckoutRef == ref && !c.Reminded {
			c.Reminded = true
			return true, nil
		}
	}
	return false, nil
}

// recordingHandler stands in for the state machine and claims the reminder
// flag the way the real handler does on an accepted send.
type recordingHandler struct {
	orders *memOrderLister
	ticks  []router.Event
	err    error
}

func (r *recordingHandler) Handle(_ context.Context, ev router.Event) error {
	if r.err != nil {
		return r.err
	}
	r.ticks = append(r.ticks, ev)
	if ev.Type == router.EventReminderTick {
		r.orders.markSent(string(ev.Reminder.OrderRef))
	}
	return nil
}

type fakeDispatcher struct {
	sent []string // recipients, in order
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, recipient, template string, _ []string, _ ...notify.Button) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, recipient+"/"+template)
	return "wamid.r", nil
}

func testConfig() Config {
	return Config{
		Tick:              time.Minute,
		OrderThreshold:    6 * time.Hour,
		CheckoutThreshold: time.Hour,
		RecordTimeout:     5 * time.Second,
	}
}

func TestSweepRespectsThresholds(t *testing.T) {
	now := time.Now().UTC()
	orders := &memOrderLister{orders: []*order.Order{
		{Ref: "old", Status: order.StatusPendingConfirmation, Phone: "923001111111", CreatedAt: now.Add(-7 * time.Hour)},
		{Ref: "fresh", Status: order.StatusPendingConfirmation, Phone: "923002222222", CreatedAt: now.Add(-time.Hour)},
	}}
	checkouts := &memCheckoutLister{checkouts: []*checkout.Checkout{
		{CheckoutRef: "chk-old", Phone: "923003333333", Product: "Widget", RecoveryURL: "https://r/1", CreatedAt: now.Add(-2 * time.Hour)},
		{CheckoutRef: "chk-fresh", Phone: "923004444444", Product: "Widget", RecoveryURL: "https://r/2", CreatedAt: now.Add(-10 * time.Minute)},
	}}
	handler := &recordingHandler{orders: orders}
	dispatch := &fakeDispatcher{}

	s := NewService(orders, checkouts, handler, dispatch, testConfig(), zap.NewNop())
	sent, err := s.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2 (one overdue order, one stale checkout)", sent)
	}
	if len(handler.ticks) != 1 || handler.ticks[0].Reminder.OrderRef != "old" {
		t.Fatalf("unexpected reminder ticks: %+v", handler.ticks)
	}
	if len(dispatch.sent) != 1 || dispatch.sent[0] != "923003333333/"+notify.TplAbandonedCheckout {
		t.Fatalf("unexpected checkout sends: %v", dispatch.sent)
	}
}

func TestSweepTwiceIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	orders := &memOrderLister{orders: []*order.Order{
		{Ref: "1001", Status: order.StatusPendingConfirmation, Phone: "923001234567", CreatedAt: now.Add(-7 * time.Hour)},
	}}
	checkouts := &memCheckoutLister{checkouts: []*checkout.Checkout{
		{CheckoutRef: "chk-1", Phone: "923007654321", Product: "Widget", RecoveryURL: "https://r/1", CreatedAt: now.Add(-8 * time.Hour)},
	}}
	handler := &recordingHandler{orders: orders}
	dispatch := &fakeDispatcher{}

	s := NewService(orders, checkouts, handler, dispatch, testConfig(), zap.NewNop())
	if sent, err := s.Sweep(context.Background(), now); err != nil || sent != 2 {
		t.Fatalf("first sweep: sent=%d err=%v", sent, err)
	}
	if sent, err := s.Sweep(context.Background(), now); err != nil || sent != 0 {
		t.Fatalf("second sweep: sent=%d err=%v, want 0", sent, err)
	}
	if len(dispatch.sent) != 1 {
		t.Fatalf("checkout reminded %d times, want 1", len(dispatch.sent))
	}
}

func TestFailedDispatchRetriedNextSweep(t *testing.T) {
	now := time.Now().UTC()
	orders := &memOrderLister{}
	checkouts := &memCheckoutLister{checkouts: []*checkout.Checkout{
		{CheckoutRef: "chk-1", Phone: "923007654321", Product: "Widget", RecoveryURL: "https://r/1", CreatedAt: now.Add(-8 * time.Hour)},
	}}
	handler := &recordingHandler{orders: orders}
	dispatch := &fakeDispatcher{err: &notify.DeliveryError{StatusCode: 503, Body: "unavailable"}}

	s := NewService(orders, checkouts, handler, dispatch, testConfig(), zap.NewNop())
	if sent, err := s.Sweep(context.Background(), now); err != nil || sent != 0 {
		t.Fatalf("outage sweep: sent=%d err=%v", sent, err)
	}
	if checkouts.checkouts[0].Reminded {
		t.Fatal("reminded flag claimed even though the send failed")
	}

	dispatch.err = nil
	if sent, err := s.Sweep(context.Background(), now); err != nil || sent != 1 {
		t.Fatalf("retry sweep: sent=%d err=%v", sent, err)
	}
	if !checkouts.checkouts[0].Reminded {
		t.Fatal("reminded flag not claimed after accepted send")
	}
}

func TestContactlessCheckoutClaimedWithoutSend(t *testing.T) {
	now := time.Now().UTC()
	checkouts := &memCheckoutLister{checkouts: []*checkout.Checkout{
		{CheckoutRef: "chk-1", Product: "Widget", RecoveryURL: "https://r/1", CreatedAt: now.Add(-8 * time.Hour)},
	}}
	dispatch := &fakeDispatcher{}

	s := NewService(&memOrderLister{}, checkouts, &recordingHandler{orders: &memOrderLister{}}, dispatch, testConfig(), zap.NewNop())
	if sent, err := s.Sweep(context.Background(), now); err != nil || sent != 0 {
		t.Fatalf("sweep: sent=%d err=%v", sent, err)
	}
	if len(dispatch.sent) != 0 {
		t.Fatalf("dispatched to contactless checkout: %v", dispatch.sent)
	}
	if !checkouts.checkouts[0].Reminded {
		t.Fatal("contactless record should be flagged so it stops surfacing")
	}
}
