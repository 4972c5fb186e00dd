// README: Template catalog and dispatch request/result types.
package notify

import "fmt"

// Template names are part of the external contract: they must match the
// provider-side approved templates exactly, including parameter count and
// positional order.
const (
	TplOrderConfirmation      = "order_confirmation"
	TplOrderConfirmedReply    = "order_confirmed_reply"
	TplOrderCancelledReply    = "order_cancelled_reply_auto"
	TplOrderDispatchReminder  = "order_dispatch_reminder"
	TplDeliveryAttempted      = "delivery_attempted"
	TplFailedDeliveryFollowup = "failed_delivery_followup"
	TplRedeliveryScheduled    = "redelivery_scheduled"
	TplReturnInitiated        = "return_initiated_cust"
	TplOrderDelivered         = "order_delivered"
	TplAbandonedCheckout      = "abandoned_checkout"
	TplFeedbackRequest        = "feedback_request"
	TplShipmentNotice         = "shipment_notice"
)

type ButtonSubType string

const (
	ButtonQuickReply ButtonSubType = "quick_reply" // Value is an opaque action payload
	ButtonURL        ButtonSubType = "url"         // Value is the single text substitution of the link
)

type Button struct {
	SubType ButtonSubType
	Value   string
}

// TemplateRequest is the provider-agnostic dispatch request. BodyParams are
// positional; their order must match the approved template's placeholders.
type TemplateRequest struct {
	Recipient  string
	Template   string
	Language   string
	BodyParams []string
	Buttons    []Button
}

type templateSpec struct {
	bodyParams int
	urlButton  bool // template carries a url button whose text must be supplied
}

var catalog = map[string]templateSpec{
	TplOrderConfirmation:      {bodyParams: 7},
	TplOrderConfirmedReply:    {bodyParams: 2},
	TplOrderCancelledReply:    {bodyParams: 1},
	TplOrderDispatchReminder:  {bodyParams: 3},
	TplDeliveryAttempted:      {bodyParams: 2},
	TplFailedDeliveryFollowup: {bodyParams: 2},
	TplRedeliveryScheduled:    {bodyParams: 6},
	TplReturnInitiated:        {bodyParams: 1},
	TplOrderDelivered:         {bodyParams: 2},
	TplAbandonedCheckout:      {bodyParams: 2, urlButton: true},
	TplFeedbackRequest:        {bodyParams: 1, urlButton: true},
	TplShipmentNotice:         {bodyParams: 1, urlButton: true},
}

// DeliveryError is the provider's rejection (non-2xx or timeout). It is an
// expected failure: callers decide whether the transition still commits.
type DeliveryError struct {
	StatusCode int // 0 when the call never completed (timeout, transport)
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("delivery failed: %s", e.Body)
	}
	return fmt.Sprintf("delivery failed: provider status %d: %s", e.StatusCode, e.Body)
}
