// README: Event router applying the order-status state machine and its side effects.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"relay/internal/modules/checkout"
	"relay/internal/modules/notify"
	"relay/internal/modules/order"
	"relay/internal/phone"
	"relay/internal/types"
)

var (
	// ErrConflict: a concurrent writer won the status update; the event was
	// not applied and is safe to redeliver.
	ErrConflict = errors.New("order state conflict")
)

type OrderStore interface {
	Create(ctx context.Context, o *order.Order) (bool, error)
	Get(ctx context.Context, ref types.ID) (*order.Order, error)
	GetByName(ctx context.Context, name string) (*order.Order, error)
	UpdateStatus(ctx context.Context, ref types.ID, from, to order.Status, version int) (bool, error)
	UpdateContact(ctx context.Context, ref types.ID, canonicalPhone, customerName string) error
	SetReminderSent(ctx context.Context, ref types.ID) (bool, error)
	SetFeedbackRequested(ctx context.Context, ref types.ID) (bool, error)
	UpsertFulfillment(ctx context.Context, f *order.Fulfillment) error
}

type CheckoutStore interface {
	Save(ctx context.Context, c *checkout.Checkout) error
}

type Correlator interface {
	RecordOutboundMessage(ctx context.Context, messageID string, ref types.ID) error
	ResolveByMessageID(ctx context.Context, messageID string) (types.ID, bool, error)
	RecordLatestOrderForPhone(ctx context.Context, canonicalPhone string, ref types.ID) error
	ResolveByPhone(ctx context.Context, canonicalPhone string) (types.ID, bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, recipient, template string, bodyParams []string, buttons ...notify.Button) (string, error)
}

type Annotator interface {
	AppendOrderNote(ctx context.Context, ref types.ID, note string) error
}

type Config struct {
	DefaultCountryCode string
	StoreName          string
	CourierName        string
	DeliveryWindow     string
	FeedbackURL        string
}

// Service owns every order-status mutation. Events for the same order ref are
// serialized through per-ref locks; the store's status_version check backs
// this up across processes.
type Service struct {
	orders    OrderStore
	checkouts CheckoutStore
	correlate Correlator
	dispatch  Dispatcher
	annotate  Annotator
	cfg       Config
	logger    *zap.Logger
	locks     *refLocks
}

func NewService(orders OrderStore, checkouts CheckoutStore, correlate Correlator, dispatch Dispatcher, annotate Annotator, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		orders:    orders,
		checkouts: checkouts,
		correlate: correlate,
		dispatch:  dispatch,
		annotate:  annotate,
		cfg:       cfg,
		logger:    logger,
		locks:     newRefLocks(),
	}
}

// Handle applies one event. A returned error means no state was committed and
// the event is safe to redeliver; dropped events (unresolvable order, missing
// contact, unknown trigger) are logged and return nil.
func (s *Service) Handle(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventOrderCreated:
		return s.handleOrderCreated(ctx, ev.Order)
	case EventCheckoutAbandoned:
		return s.handleCheckoutAbandoned(ctx, ev.Checkout)
	case EventCourierStatus:
		return s.handleCourierStatus(ctx, ev.Courier)
	case EventInboundReply:
		return s.handleInbound(ctx, ev.Inbound)
	case EventReminderTick:
		return s.handleReminderTick(ctx, ev.Reminder)
	default:
		s.logger.Warn("unknown event type", zap.String("type", string(ev.Type)))
		return nil
	}
}

func (s *Service) handleOrderCreated(ctx context.Context, ev *OrderCreated) error {
	unlock := s.locks.acquire(ev.OrderRef)
	defer unlock()

	canonical := phone.FirstCandidate(ev.PhoneCandidates, s.cfg.DefaultCountryCode)

	product := ""
	quantity := 0
	if len(ev.LineItems) > 0 {
		product = ev.LineItems[0].Title
		quantity = ev.LineItems[0].Quantity
	}

	o := &order.Order{
		Ref:          ev.OrderRef,
		Name:         ev.OrderName,
		CustomerName: ev.CustomerName,
		Phone:        canonical,
		Product:      product,
		Quantity:     quantity,
		Total:        types.Money{Amount: ev.TotalPrice, Currency: ev.Currency},
		StoreName:    s.cfg.StoreName,
		Status:       order.StatusPendingConfirmation,
		CreatedAt:    time.Now().UTC(),
	}
	created, err := s.orders.Create(ctx, o)
	if err != nil {
		return fmt.Errorf("create order %s: %w", ev.OrderRef, err)
	}
	if !created {
		// replayed webhook; the confirmation already went out (or was skipped)
		s.logger.Debug("duplicate order-created absorbed", zap.String("order_ref", string(ev.OrderRef)))
		return nil
	}

	if canonical == "" {
		s.logger.Warn("order created without resolvable phone, no dispatch",
			zap.String("order_ref", string(ev.OrderRef)))
		return nil
	}

	if s.sendConfirmation(ctx, o) {
		s.note(ctx, o.Ref, "WhatsApp: order_confirmation sent")
	}
	return nil
}

func (s *Service) handleCheckoutAbandoned(ctx context.Context, ev *CheckoutAbandoned) error {
	canonical := phone.Normalize(ev.Phone, s.cfg.DefaultCountryCode)
	c := &checkout.Checkout{
		CheckoutRef:  ev.CheckoutRef,
		CustomerName: ev.CustomerName,
		Phone:        canonical,
		Product:      ev.Product,
		RecoveryURL:  ev.RecoveryURL,
	}
	if err := s.checkouts.Save(ctx, c); err != nil {
		return fmt.Errorf("save abandoned checkout %s: %w", ev.CheckoutRef, err)
	}
	s.logger.Info("abandoned checkout recorded",
		zap.String("checkout_ref", ev.CheckoutRef),
		zap.Bool("has_contact", canonical != ""))
	return nil
}

func (s *Service) handleCourierStatus(ctx context.Context, ev *CourierStatus) error {
	unlock := s.locks.acquire(ev.OrderRef)
	defer unlock()

	o, err := s.orders.Get(ctx, ev.OrderRef)
	if errors.Is(err, order.ErrNotFound) {
		s.logger.Warn("courier event for unknown order dropped",
			zap.String("order_ref", string(ev.OrderRef)),
			zap.String("courier_status", ev.Status))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", ev.OrderRef, err)
	}

	if canonical := phone.Normalize(ev.Phone, s.cfg.DefaultCountryCode); canonical != "" && o.Phone == "" {
		if err := s.orders.UpdateContact(ctx, o.Ref, canonical, ""); err != nil {
			s.logger.Error("contact refresh failed", zap.String("order_ref", string(o.Ref)), zap.Error(err))
		} else {
			o.Phone = canonical
		}
	}

	if id := fulfillmentID(ev); id != "" {
		f := &order.Fulfillment{
			ID:             id,
			OrderRef:       o.Ref,
			Status:         ev.Status,
			TrackingURL:    ev.TrackingURL,
			TrackingNumber: ev.TrackingNumber,
			UpdatedAt:      time.Now().UTC(),
		}
		if err := s.orders.UpsertFulfillment(ctx, f); err != nil {
			s.logger.Error("fulfillment upsert failed", zap.String("order_ref", string(o.Ref)), zap.Error(err))
		}
	}

	target, template, params, buttons := s.courierTransition(o, ev)
	if target == order.StatusNone {
		s.logger.Warn("unmapped courier status, state unchanged",
			zap.String("order_ref", string(o.Ref)),
			zap.String("courier_status", ev.Status))
		return nil
	}

	if o.Status == target && target != order.StatusDeliveryAttempted {
		// network-level webhook retry; do not repeat the side effects
		s.logger.Debug("duplicate courier status suppressed",
			zap.String("order_ref", string(o.Ref)),
			zap.String("status", string(target)))
		return nil
	}
	if !order.CanTransition(o.Status, target) {
		s.logger.Warn("out-of-order courier status ignored",
			zap.String("order_ref", string(o.Ref)),
			zap.String("from", string(o.Status)),
			zap.String("to", string(target)))
		return nil
	}

	// The courier event already happened in the real world, so the state
	// write commits regardless of whether the notification goes through.
	ok, err := s.orders.UpdateStatus(ctx, o.Ref, o.Status, target, o.StatusVersion)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.Ref, err)
	}
	if !ok {
		return fmt.Errorf("%w: order %s", ErrConflict, o.Ref)
	}
	s.logger.Info("order transitioned",
		zap.String("order_ref", string(o.Ref)),
		zap.String("from", string(o.Status)),
		zap.String("to", string(target)))

	if o.Phone == "" {
		s.logger.Warn("no contact for courier notification", zap.String("order_ref", string(o.Ref)))
		return nil
	}

	if s.send(ctx, o, template, params, buttons...) {
		s.note(ctx, o.Ref, "WhatsApp: "+template+" sent")
	}

	if target == order.StatusDelivered {
		s.requestFeedback(ctx, o)
	}
	return nil
}

// courierTransition maps a courier status onto a target order status and the
// notification that announces it. StatusNone marks an unmapped trigger.
func (s *Service) courierTransition(o *order.Order, ev *CourierStatus) (order.Status, string, []string, []notify.Button) {
	name := displayName(o.CustomerName)
	ref := string(o.Ref)

	switch ev.Status {
	case CourierShipped:
		if ev.TrackingURL == "" {
			// no link to offer, fall back to the plain dispatch notice
			return order.StatusShipped, notify.TplOrderDispatchReminder, []string{name, ref, s.cfg.CourierName}, nil
		}
		return order.StatusShipped, notify.TplShipmentNotice, []string{ref},
			[]notify.Button{{SubType: notify.ButtonURL, Value: ev.TrackingURL}}
	case CourierOutForDelivery:
		return order.StatusOutForDelivery, notify.TplOrderDispatchReminder, []string{name, ref, s.cfg.CourierName}, nil
	case CourierAttempted, CourierFailed, CourierPending:
		if o.Status == order.StatusDeliveryAttempted {
			return order.StatusDeliveryAttempted, notify.TplFailedDeliveryFollowup, []string{name, ref}, nil
		}
		return order.StatusDeliveryAttempted, notify.TplDeliveryAttempted, []string{name, ref},
			[]notify.Button{
				{SubType: notify.ButtonQuickReply, Value: ActionRetryDelivery + ":" + ref},
				{SubType: notify.ButtonQuickReply, Value: ActionRedeliver + ":" + ref},
			}
	case CourierDelivered:
		return order.StatusDelivered, notify.TplOrderDelivered, []string{name, ref}, nil
	case CourierRTO, CourierReturnInitiated:
		return order.StatusReturnInitiated, notify.TplReturnInitiated, []string{ref}, nil
	}
	return order.StatusNone, "", nil, nil
}

func (s *Service) handleInbound(ctx context.Context, ev *InboundReply) error {
	canonical := phone.Normalize(ev.SenderPhone, s.cfg.DefaultCountryCode)
	if canonical == "" {
		s.logger.Warn("inbound reply without resolvable sender phone dropped")
		return nil
	}

	ref, err := s.resolveOrder(ctx, ev, canonical)
	if err != nil {
		return err
	}
	if ref == "" {
		s.logger.Warn("inbound reply could not be matched to an order",
			zap.String("sender", canonical),
			zap.String("payload", ev.Payload))
		return nil
	}

	unlock := s.locks.acquire(ref)
	defer unlock()

	o, err := s.orders.Get(ctx, ref)
	if errors.Is(err, order.ErrNotFound) {
		s.logger.Warn("correlated order no longer exists", zap.String("order_ref", string(ref)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", ref, err)
	}

	switch ev.Kind {
	case InboundText, InboundAudio:
		s.note(ctx, o.Ref, "customer reply ("+string(ev.Kind)+"): "+truncate(ev.Payload, 200))
		s.logger.Info("customer reply recorded",
			zap.String("order_ref", string(o.Ref)),
			zap.String("kind", string(ev.Kind)))
		return nil
	case InboundButton, InboundInteractive:
		action, _ := splitAction(ev.Payload)
		return s.applyAction(ctx, o, action)
	default:
		s.logger.Warn("unknown inbound kind dropped", zap.String("kind", string(ev.Kind)))
		return nil
	}
}

// resolveOrder applies the lookup precedence: explicit ref in the button
// payload, then the human-readable order name, then the replied-to message
// id, then the sender's most recent order. First hit wins.
func (s *Service) resolveOrder(ctx context.Context, ev *InboundReply, canonical string) (types.ID, error) {
	if ev.Kind == InboundButton || ev.Kind == InboundInteractive {
		if _, ref := splitAction(ev.Payload); ref != "" {
			return ref, nil
		}
	}
	if ev.OrderName != "" {
		o, err := s.orders.GetByName(ctx, ev.OrderName)
		if err == nil {
			return o.Ref, nil
		}
		if !errors.Is(err, order.ErrNotFound) {
			return "", fmt.Errorf("lookup order by name %q: %w", ev.OrderName, err)
		}
	}
	if ev.ContextMessageID != "" {
		ref, ok, err := s.correlate.ResolveByMessageID(ctx, ev.ContextMessageID)
		if err != nil {
			s.logger.Error("message-id correlation lookup failed", zap.Error(err))
		} else if ok {
			return ref, nil
		}
	}
	ref, ok, err := s.correlate.ResolveByPhone(ctx, canonical)
	if err != nil {
		s.logger.Error("phone correlation lookup failed", zap.Error(err))
		return "", nil
	}
	if ok {
		return ref, nil
	}
	return "", nil
}

func (s *Service) applyAction(ctx context.Context, o *order.Order, action string) error {
	switch action {
	case ActionConfirm:
		if o.Status == order.StatusPendingConfirmation {
			return s.transitionOnAction(ctx, o, order.StatusConfirmed,
				notify.TplOrderConfirmedReply, []string{displayName(o.CustomerName), string(o.Ref)},
				"confirmed by customer via WhatsApp")
		}
		return s.duplicateActionReply(ctx, o, action)
	case ActionCancel:
		if o.Status == order.StatusPendingConfirmation {
			return s.transitionOnAction(ctx, o, order.StatusCancelled,
				notify.TplOrderCancelledReply, []string{string(o.Ref)},
				"cancelled by customer via WhatsApp")
		}
		return s.duplicateActionReply(ctx, o, action)
	case ActionRedeliver, ActionRetryDelivery:
		if o.Status != order.StatusDeliveryAttempted {
			return s.duplicateActionReply(ctx, o, action)
		}
		day := time.Now().Add(24 * time.Hour).Format("Monday, 2 January")
		params := []string{
			string(o.Ref), day, s.cfg.DeliveryWindow, s.cfg.CourierName,
			o.Total.Amount, o.Total.Currency,
		}
		return s.transitionOnAction(ctx, o, order.StatusRedeliveryScheduled,
			notify.TplRedeliveryScheduled, params,
			"redelivery requested by customer")
	default:
		s.logger.Warn("unknown button payload, state unchanged",
			zap.String("order_ref", string(o.Ref)),
			zap.String("action", action))
		return nil
	}
}

func (s *Service) transitionOnAction(ctx context.Context, o *order.Order, target order.Status, template string, params []string, noteText string) error {
	if !order.CanTransition(o.Status, target) {
		s.logger.Warn("action not applicable in current state",
			zap.String("order_ref", string(o.Ref)),
			zap.String("from", string(o.Status)),
			zap.String("to", string(target)))
		return nil
	}
	ok, err := s.orders.UpdateStatus(ctx, o.Ref, o.Status, target, o.StatusVersion)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.Ref, err)
	}
	if !ok {
		return fmt.Errorf("%w: order %s", ErrConflict, o.Ref)
	}
	s.logger.Info("order transitioned",
		zap.String("order_ref", string(o.Ref)),
		zap.String("from", string(o.Status)),
		zap.String("to", string(target)))

	if o.Phone != "" {
		s.send(ctx, o, template, params)
	}
	s.note(ctx, o.Ref, noteText)
	return nil
}

// duplicateActionReply answers a button press on an already-settled order
// with an informational notice matching the current state, without repeating
// the original side effects. Webhooks are not exactly-once; this is the
// suppression path.
func (s *Service) duplicateActionReply(ctx context.Context, o *order.Order, action string) error {
	if !order.ActionTerminal[o.Status] {
		s.logger.Warn("action ignored in current state",
			zap.String("order_ref", string(o.Ref)),
			zap.String("action", action),
			zap.String("status", string(o.Status)))
		return nil
	}

	s.logger.Info("duplicate action answered with notice",
		zap.String("order_ref", string(o.Ref)),
		zap.String("action", action),
		zap.String("status", string(o.Status)))

	if o.Phone == "" {
		return nil
	}
	switch o.Status {
	case order.StatusConfirmed:
		s.send(ctx, o, notify.TplOrderConfirmedReply, []string{displayName(o.CustomerName), string(o.Ref)})
	case order.StatusCancelled:
		s.send(ctx, o, notify.TplOrderCancelledReply, []string{string(o.Ref)})
	case order.StatusDelivered:
		s.send(ctx, o, notify.TplOrderDelivered, []string{displayName(o.CustomerName), string(o.Ref)})
	}
	return nil
}

func (s *Service) handleReminderTick(ctx context.Context, ev *ReminderTick) error {
	unlock := s.locks.acquire(ev.OrderRef)
	defer unlock()

	o, err := s.orders.Get(ctx, ev.OrderRef)
	if errors.Is(err, order.ErrNotFound) {
		s.logger.Warn("reminder tick for unknown order dropped", zap.String("order_ref", string(ev.OrderRef)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", ev.OrderRef, err)
	}

	if o.Status != order.StatusPendingConfirmation || o.ReminderSent || o.Phone == "" {
		return nil
	}

	// flag is claimed only after the provider accepts the send, so a failed
	// reminder is retried on the next sweep
	if !s.sendConfirmation(ctx, o) {
		return nil
	}
	claimed, err := s.orders.SetReminderSent(ctx, o.Ref)
	if err != nil {
		return fmt.Errorf("set reminder flag %s: %w", o.Ref, err)
	}
	if claimed {
		s.note(ctx, o.Ref, "WhatsApp: confirmation reminder sent")
	}
	return nil
}

// sendConfirmation dispatches the order_confirmation template with its
// confirm/cancel quick replies and records correlation on success.
func (s *Service) sendConfirmation(ctx context.Context, o *order.Order) bool {
	params := []string{
		displayName(o.CustomerName),
		string(o.Ref),
		o.Product,
		strconv.Itoa(o.Quantity),
		o.StoreName,
		o.Total.Amount,
		o.Total.Currency,
	}
	return s.send(ctx, o, notify.TplOrderConfirmation, params,
		notify.Button{SubType: notify.ButtonQuickReply, Value: ActionConfirm + ":" + string(o.Ref)},
		notify.Button{SubType: notify.ButtonQuickReply, Value: ActionCancel + ":" + string(o.Ref)},
	)
}

func (s *Service) requestFeedback(ctx context.Context, o *order.Order) {
	if o.FeedbackRequested || o.Phone == "" || s.cfg.FeedbackURL == "" {
		return
	}
	msgID, err := s.dispatch.Dispatch(ctx, o.Phone, notify.TplFeedbackRequest,
		[]string{displayName(o.CustomerName)},
		notify.Button{SubType: notify.ButtonURL, Value: s.cfg.FeedbackURL})
	if err != nil {
		s.logger.Error("feedback request dispatch failed", zap.String("order_ref", string(o.Ref)), zap.Error(err))
		return
	}
	s.recordCorrelation(ctx, o, msgID)
	if _, err := s.orders.SetFeedbackRequested(ctx, o.Ref); err != nil {
		s.logger.Error("set feedback flag failed", zap.String("order_ref", string(o.Ref)), zap.Error(err))
	}
}

// send dispatches a template to the order's contact. Delivery failures are
// logged and reported as false; the caller has usually already committed the
// state write, which is intentional.
func (s *Service) send(ctx context.Context, o *order.Order, template string, params []string, buttons ...notify.Button) bool {
	msgID, err := s.dispatch.Dispatch(ctx, o.Phone, template, params, buttons...)
	if err != nil {
		var de *notify.DeliveryError
		if !errors.As(err, &de) {
			// catalog misuse, not a provider problem
			s.logger.Error("dispatch rejected before send",
				zap.String("order_ref", string(o.Ref)),
				zap.String("template", template),
				zap.Error(err))
		}
		return false
	}
	s.recordCorrelation(ctx, o, msgID)
	return true
}

func (s *Service) recordCorrelation(ctx context.Context, o *order.Order, msgID string) {
	if msgID != "" {
		if err := s.correlate.RecordOutboundMessage(ctx, msgID, o.Ref); err != nil {
			s.logger.Error("record message correlation failed", zap.Error(err))
		}
	}
	if o.Phone != "" {
		if err := s.correlate.RecordLatestOrderForPhone(ctx, o.Phone, o.Ref); err != nil {
			s.logger.Error("record phone correlation failed", zap.Error(err))
		}
	}
}

// note appends an audit note on the storefront order. Annotation is a
// side-channel; failures are logged and never block the transition.
func (s *Service) note(ctx context.Context, ref types.ID, text string) {
	if err := s.annotate.AppendOrderNote(ctx, ref, text); err != nil {
		s.logger.Error("order note update failed",
			zap.String("order_ref", string(ref)),
			zap.Error(err))
	}
}

func fulfillmentID(ev *CourierStatus) string {
	if ev.FulfillmentID != "" {
		return ev.FulfillmentID
	}
	return ev.TrackingNumber
}

func displayName(name string) string {
	if name == "" {
		return "Customer"
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
