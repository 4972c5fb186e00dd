// README: Tagged event type consumed by the state machine, one per inbound trigger.
package router

import (
	"strings"
	"time"

	"relay/internal/types"
)

type EventType string

const (
	EventOrderCreated      EventType = "order_created"
	EventCheckoutAbandoned EventType = "checkout_abandoned"
	EventCourierStatus     EventType = "courier_status"
	EventInboundReply      EventType = "inbound_reply"
	EventReminderTick      EventType = "reminder_tick"
)

// Event is the single normalized shape every webhook, queue message, and
// sweep tick is reduced to before it reaches the state machine. Exactly one
// payload field matching Type is set.
type Event struct {
	Type     EventType
	Order    *OrderCreated
	Checkout *CheckoutAbandoned
	Courier  *CourierStatus
	Inbound  *InboundReply
	Reminder *ReminderTick
}

type LineItem struct {
	Title    string
	Quantity int
}

type OrderCreated struct {
	OrderRef        types.ID
	OrderName       string
	CustomerName    string
	PhoneCandidates []string
	LineItems       []LineItem
	TotalPrice      string
	Currency        string
}

type CheckoutAbandoned struct {
	CheckoutRef  string
	CustomerName string
	Phone        string
	Product      string
	RecoveryURL  string
}

// Courier status values in the normalized event shape.
const (
	CourierShipped         = "shipped"
	CourierOutForDelivery  = "out_for_delivery"
	CourierAttempted       = "attempted"
	CourierFailed          = "failed"
	CourierPending         = "pending"
	CourierDelivered       = "delivered"
	CourierRTO             = "rto"
	CourierReturnInitiated = "return_initiated"
)

type CourierStatus struct {
	OrderRef       types.ID
	Phone          string
	Status         string
	TrackingURL    string
	TrackingNumber string
	FulfillmentID  string
}

// NormalizeCourierStatus folds courier-specific status vocabularies onto the
// trigger set above. Unknown strings pass through lowercased so the state
// machine can log them verbatim.
func NormalizeCourierStatus(raw string) string {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_"))
	switch s {
	case "shipped", "dispatched", "in_transit", "picked_up":
		return CourierShipped
	case "out_for_delivery", "ofd":
		return CourierOutForDelivery
	case "attempted", "delivery_attempted":
		return CourierAttempted
	case "failed", "delivery_failed", "undelivered":
		return CourierFailed
	case "pending", "on_hold":
		return CourierPending
	case "delivered", "completed":
		return CourierDelivered
	case "rto", "returned_to_origin":
		return CourierRTO
	case "return_initiated", "returning":
		return CourierReturnInitiated
	default:
		return s
	}
}

type InboundKind string

const (
	InboundText        InboundKind = "text"
	InboundButton      InboundKind = "button"
	InboundInteractive InboundKind = "interactive"
	InboundAudio       InboundKind = "audio"
)

type InboundReply struct {
	SenderPhone      string
	Kind             InboundKind
	Payload          string // opaque action payload, optionally "ACTION:orderRef"
	OrderName        string // human-readable order name when the channel carries one
	MessageID        string
	ContextMessageID string // provider id of the outbound message being replied to
}

type ReminderTick struct {
	OrderRef types.ID
	Now      time.Time
}

// Button action payloads. The ":orderRef" suffix is the convention that lets
// a reply be routed without relying on the correlation index.
const (
	ActionConfirm       = "CONFIRM_ORDER"
	ActionCancel        = "CANCEL_ORDER"
	ActionRedeliver     = "REDELIVER_TOMORROW"
	ActionRetryDelivery = "RETRY_DELIVERY"
)

// splitAction separates an action payload from its optional order-ref suffix.
func splitAction(payload string) (action string, ref types.ID) {
	if i := strings.IndexByte(payload, ':'); i >= 0 {
		return payload[:i], types.ID(payload[i+1:])
	}
	return payload, ""
}
