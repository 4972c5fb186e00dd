// README: Webhook handlers translating storefront/courier/provider payloads into events.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relay/internal/modules/router"
	"relay/internal/types"
)

type EventHandler interface {
	Handle(ctx context.Context, ev router.Event) error
}

type WebhookHandler struct {
	events EventHandler
	logger *zap.Logger
}

func NewWebhookHandler(events EventHandler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{events: events, logger: logger}
}

// orderCreatedReq mirrors the storefront's order webhook. Phone may appear in
// several places depending on checkout flow; all are collected as candidates
// in precedence order.
type orderCreatedReq struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Customer struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	ShippingAddress struct {
		Phone string `json:"phone"`
	} `json:"shipping_address"`
	BillingAddress struct {
		Phone string `json:"phone"`
	} `json:"billing_address"`
	LineItems []struct {
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
	} `json:"line_items"`
	TotalPrice string `json:"total_price"`
	Currency   string `json:"currency"`
}

func (h *WebhookHandler) OrderCreated(c *gin.Context) {
	var req orderCreatedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing order id"})
		return
	}

	name := strings.TrimSpace(req.Customer.FirstName + " " + req.Customer.LastName)
	items := make([]router.LineItem, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		items = append(items, router.LineItem{Title: li.Title, Quantity: li.Quantity})
	}

	ev := router.Event{Type: router.EventOrderCreated, Order: &router.OrderCreated{
		OrderRef:     types.ID(req.ID),
		OrderName:    req.Name,
		CustomerName: name,
		PhoneCandidates: []string{
			req.ShippingAddress.Phone,
			req.Phone,
			req.Customer.Phone,
			req.BillingAddress.Phone,
		},
		LineItems:  items,
		TotalPrice: req.TotalPrice,
		Currency:   req.Currency,
	}}
	h.deliver(c, ev)
}

type checkoutAbandonedReq struct {
	Token    string `json:"token"`
	Customer struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"customer"`
	Phone     string `json:"phone"`
	LineItems []struct {
		Title string `json:"title"`
	} `json:"line_items"`
	AbandonedCheckoutURL string `json:"abandoned_checkout_url"`
}

func (h *WebhookHandler) CheckoutAbandoned(c *gin.Context) {
	var req checkoutAbandonedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing checkout token"})
		return
	}

	product := ""
	if len(req.LineItems) > 0 {
		product = req.LineItems[0].Title
	}
	ev := router.Event{Type: router.EventCheckoutAbandoned, Checkout: &router.CheckoutAbandoned{
		CheckoutRef:  req.Token,
		CustomerName: strings.TrimSpace(req.Customer.FirstName + " " + req.Customer.LastName),
		Phone:        req.Phone,
		Product:      product,
		RecoveryURL:  req.AbandonedCheckoutURL,
	}}
	h.deliver(c, ev)
}

// courierStatusReq is the HTTP fallback for couriers that push tracking
// updates directly instead of through the broker.
type courierStatusReq struct {
	OrderRef       string `json:"order_ref"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Phone          string `json:"phone"`
	TrackingURL    string `json:"tracking_url"`
	TrackingNumber string `json:"tracking_number"`
	FulfillmentID  string `json:"fulfillment_id"`
}

func (h *WebhookHandler) CourierStatus(c *gin.Context) {
	var req courierStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ref := req.OrderRef
	if ref == "" {
		ref = req.OrderID
	}
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing order ref"})
		return
	}

	ev := router.Event{Type: router.EventCourierStatus, Courier: &router.CourierStatus{
		OrderRef:       types.ID(ref),
		Phone:          req.Phone,
		Status:         router.NormalizeCourierStatus(req.Status),
		TrackingURL:    req.TrackingURL,
		TrackingNumber: req.TrackingNumber,
		FulfillmentID:  req.FulfillmentID,
	}}
	h.deliver(c, ev)
}

// messagesReq follows the WhatsApp Cloud API webhook envelope: message events
// and delivery-status events arrive on the same endpoint.
type messagesReq struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []waMessage `json:"messages"`
				Statuses []waStatus  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
	Interactive struct {
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Context struct {
		ID string `json:"id"`
	} `json:"context"`
}

type waStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

func (h *WebhookHandler) Messages(c *gin.Context) {
	var req messagesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	for _, entry := range req.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				// delivery receipts are observational only
				h.logger.Info("message status callback",
					zap.String("message_id", st.ID),
					zap.String("status", st.Status),
					zap.String("recipient", st.RecipientID))
			}
			for _, msg := range change.Value.Messages {
				ev, ok := inboundEvent(msg)
				if !ok {
					h.logger.Warn("unsupported inbound message type dropped",
						zap.String("type", msg.Type))
					continue
				}
				if err := h.events.Handle(c.Request.Context(), ev); err != nil {
					h.logger.Error("inbound message handling failed", zap.Error(err))
					c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
					return
				}
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func inboundEvent(msg waMessage) (router.Event, bool) {
	in := &router.InboundReply{
		SenderPhone:      msg.From,
		MessageID:        msg.ID,
		ContextMessageID: msg.Context.ID,
	}
	switch msg.Type {
	case "text":
		in.Kind = router.InboundText
		in.Payload = msg.Text.Body
	case "button":
		in.Kind = router.InboundButton
		in.Payload = msg.Button.Payload
		if in.Payload == "" {
			in.Payload = msg.Button.Text
		}
	case "interactive":
		in.Kind = router.InboundInteractive
		in.Payload = msg.Interactive.ButtonReply.ID
	case "audio":
		in.Kind = router.InboundAudio
		in.Payload = "(voice note)"
	default:
		return router.Event{}, false
	}
	return router.Event{Type: router.EventInboundReply, Inbound: in}, true
}

// deliver hands the event to the state machine. A handler error means nothing
// was committed, so the webhook answers 503 and the upstream redelivers.
func (h *WebhookHandler) deliver(c *gin.Context, ev router.Event) {
	if err := h.events.Handle(c.Request.Context(), ev); err != nil {
		h.logger.Error("event handling failed",
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
