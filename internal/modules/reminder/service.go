// README: Periodic sweep nudging unconfirmed orders and abandoned checkouts.
package reminder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"relay/internal/modules/checkout"
	"relay/internal/modules/notify"
	"relay/internal/modules/order"
	"relay/internal/modules/router"
)

type OrderLister interface {
	ListUnremindedBefore(ctx context.Context, cutoff time.Time) ([]*order.Order, error)
}

type CheckoutLister interface {
	ListUnremindedBefore(ctx context.Context, cutoff time.Time) ([]*checkout.Checkout, error)
	MarkReminded(ctx context.Context, ref string) (bool, error)
}

// EventHandler is the state machine entrypoint; order reminders go through it
// so the per-order lock and the reminded-flag claim apply.
type EventHandler interface {
	Handle(ctx context.Context, ev router.Event) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, recipient, template string, bodyParams []string, buttons ...notify.Button) (string, error)
}

type Config struct {
	Tick              time.Duration // interval between sweeps
	OrderThreshold    time.Duration // pending_confirmation age before a nudge
	CheckoutThreshold time.Duration // abandoned-checkout age before a nudge
	RecordTimeout     time.Duration // budget per record, a slow one must not stall the sweep
}

type Service struct {
	orders    OrderLister
	checkouts CheckoutLister
	handler   EventHandler
	dispatch  Dispatcher
	cfg       Config
	logger    *zap.Logger
}

func NewService(orders OrderLister, checkouts CheckoutLister, handler EventHandler, dispatch Dispatcher, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		orders:    orders,
		checkouts: checkouts,
		handler:   handler,
		dispatch:  dispatch,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run sweeps on a fixed tick until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.logger.Info("reminder sweep started",
		zap.Duration("tick", s.cfg.Tick),
		zap.Duration("order_threshold", s.cfg.OrderThreshold),
		zap.Duration("checkout_threshold", s.cfg.CheckoutThreshold))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder sweep stopped")
			return
		case now := <-ticker.C:
			sent, err := s.Sweep(ctx, now.UTC())
			if err != nil {
				s.logger.Error("reminder sweep failed", zap.Error(err))
				continue
			}
			if sent > 0 {
				s.logger.Info("reminder sweep done", zap.Int("sent", sent))
			}
		}
	}
}

// Sweep nudges every overdue record once and returns how many reminders the
// provider accepted. Per-record failures are logged and skipped; the record
// stays unflagged and is retried next sweep.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	sent := 0

	overdue, err := s.orders.ListUnremindedBefore(ctx, now.Add(-s.cfg.OrderThreshold))
	if err != nil {
		return sent, err
	}
	for _, o := range overdue {
		if err := s.remindOrder(ctx, o, now); err != nil {
			s.logger.Error("order reminder failed",
				zap.String("order_ref", string(o.Ref)),
				zap.Error(err))
			continue
		}
		sent++
	}

	stale, err := s.checkouts.ListUnremindedBefore(ctx, now.Add(-s.cfg.CheckoutThreshold))
	if err != nil {
		return sent, err
	}
	for _, c := range stale {
		ok, err := s.remindCheckout(ctx, c)
		if err != nil {
			s.logger.Error("checkout reminder failed",
				zap.String("checkout_ref", c.CheckoutRef),
				zap.Error(err))
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (s *Service) remindOrder(ctx context.Context, o *order.Order, now time.Time) error {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
	defer cancel()
	return s.handler.Handle(rctx, router.Event{
		Type:     router.EventReminderTick,
		Reminder: &router.ReminderTick{OrderRef: o.Ref, Now: now},
	})
}

func (s *Service) remindCheckout(ctx context.Context, c *checkout.Checkout) (bool, error) {
	if c.Phone == "" || c.RecoveryURL == "" {
		// nothing to send; claim the flag so the record stops surfacing
		_, err := s.checkouts.MarkReminded(ctx, c.CheckoutRef)
		return false, err
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
	defer cancel()

	name := c.CustomerName
	if name == "" {
		name = "Customer"
	}
	_, err := s.dispatch.Dispatch(rctx, c.Phone, notify.TplAbandonedCheckout,
		[]string{name, c.Product},
		notify.Button{SubType: notify.ButtonURL, Value: c.RecoveryURL})
	if err != nil {
		return false, err
	}

	// flag only after the provider accepted, mirroring the order path
	claimed, err := s.checkouts.MarkReminded(rctx, c.CheckoutRef)
	if err != nil {
		return false, err
	}
	return claimed, nil
}
