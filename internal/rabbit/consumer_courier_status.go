// README: Courier tracking-update consumer feeding the state machine.
package rabbit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"relay/internal/modules/router"
	"relay/internal/types"
)

type EventHandler interface {
	Handle(ctx context.Context, ev router.Event) error
}

type CourierStatusConsumer struct {
	handler EventHandler
	logger  *zap.Logger
}

func NewCourierStatusConsumer(handler EventHandler, logger *zap.Logger) *CourierStatusConsumer {
	return &CourierStatusConsumer{handler: handler, logger: logger}
}

// courierStatusMessage mirrors the tracking webhook bridge's envelope. Field
// names vary by courier, so the common aliases are accepted.
type courierStatusMessage struct {
	OrderRef       string `json:"order_ref"`
	OrderID        string `json:"order_id"` // legacy alias for order_ref
	Status         string `json:"status"`
	Phone          string `json:"phone"`
	TrackingURL    string `json:"tracking_url"`
	TrackingNumber string `json:"tracking_number"`
	FulfillmentID  string `json:"fulfillment_id"`
}

// Handle processes one queue message. A returned error requeues the message;
// malformed payloads are dropped with a log line instead, redelivery cannot
// fix them.
func (c *CourierStatusConsumer) Handle(ctx context.Context, body []byte) error {
	var msg courierStatusMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Warn("malformed courier status message dropped", zap.Error(err))
		return nil
	}
	ref := msg.OrderRef
	if ref == "" {
		ref = msg.OrderID
	}
	if ref == "" {
		c.logger.Warn("courier status message without order ref dropped")
		return nil
	}

	return c.handler.Handle(ctx, router.Event{
		Type: router.EventCourierStatus,
		Courier: &router.CourierStatus{
			OrderRef:       types.ID(ref),
			Phone:          msg.Phone,
			Status:         router.NormalizeCourierStatus(msg.Status),
			TrackingURL:    msg.TrackingURL,
			TrackingNumber: msg.TrackingNumber,
			FulfillmentID:  msg.FulfillmentID,
		},
	})
}
