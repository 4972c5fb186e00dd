// README: Order record and status state machine.
package order

import (
	"time"

	"relay/internal/types"
)

type Status string

const (
	StatusNone                Status = "none"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusCancelled           Status = "cancelled"
	StatusShipped             Status = "shipped"
	StatusOutForDelivery      Status = "out_for_delivery"
	StatusDeliveryAttempted   Status = "delivery_attempted"
	StatusDelivered           Status = "delivered"
	StatusReturnInitiated     Status = "return_initiated"
	StatusRedeliveryScheduled Status = "redelivery_scheduled"
)

type Order struct {
	Ref               types.ID
	Name              string // human-readable order name from the storefront, e.g. "#1001"
	CustomerName      string
	Phone             string // canonical international form; empty when no contact resolved
	Product           string
	Quantity          int
	Total             types.Money
	StoreName         string
	Status            Status
	StatusVersion     int
	ReminderSent      bool
	FeedbackRequested bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Fulfillment is an append-only shipment sub-record keyed by the courier's
// fulfillment identifier.
type Fulfillment struct {
	ID             string
	OrderRef       types.ID
	Status         string
	TrackingURL    string
	TrackingNumber string
	UpdatedAt      time.Time
}

// AllowedTransitions represents the order status flow as code. The courier's
// view of reality wins: shipping is reachable even before the customer
// confirmed, and delivery_attempted may re-enter itself on repeated failed
// attempts.
var AllowedTransitions = map[Status][]Status{
	StatusPendingConfirmation: {StatusConfirmed, StatusCancelled, StatusShipped},
	StatusConfirmed:           {StatusShipped, StatusCancelled},
	StatusShipped:             {StatusOutForDelivery, StatusDeliveryAttempted, StatusDelivered, StatusReturnInitiated},
	StatusOutForDelivery:      {StatusDeliveryAttempted, StatusDelivered, StatusReturnInitiated},
	StatusDeliveryAttempted:   {StatusDeliveryAttempted, StatusRedeliveryScheduled, StatusOutForDelivery, StatusDelivered, StatusReturnInitiated},
	StatusRedeliveryScheduled: {StatusOutForDelivery, StatusDeliveryAttempted, StatusDelivered, StatusReturnInitiated},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// ActionTerminal marks statuses after which customer confirm/cancel buttons no
// longer change business outcome; duplicates get an informational reply only.
var ActionTerminal = map[Status]bool{
	StatusConfirmed: true,
	StatusCancelled: true,
	StatusDelivered: true,
}

// ShippedStage reports whether the order is somewhere between shipment and
// delivery, the window in which courier events apply.
func ShippedStage(s Status) bool {
	switch s {
	case StatusShipped, StatusOutForDelivery, StatusDeliveryAttempted, StatusRedeliveryScheduled:
		return true
	}
	return false
}
