// README: Dispatcher and WhatsApp client tests.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeProvider struct {
	req  TemplateRequest
	id   string
	err  error
	sent int
}

func (f *fakeProvider) Send(_ context.Context, req TemplateRequest) (string, error) {
	f.req = req
	f.sent++
	return f.id, f.err
}

func TestDispatchValidatesCatalog(t *testing.T) {
	provider := &fakeProvider{id: "wamid.1"}
	d := NewDispatcher(provider, "en", zap.NewNop())
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, "923001234567", "no_such_template", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
	if _, err := d.Dispatch(ctx, "923001234567", TplOrderConfirmedReply, []string{"only one"}); err == nil {
		t.Fatal("expected param-count error")
	}
	if _, err := d.Dispatch(ctx, "923001234567", TplFeedbackRequest, []string{"Customer"}); err == nil {
		t.Fatal("expected missing url-button error")
	}
	if provider.sent != 0 {
		t.Fatalf("provider called %d times for invalid requests", provider.sent)
	}
}

func TestDispatchBuildsRequest(t *testing.T) {
	provider := &fakeProvider{id: "wamid.2"}
	d := NewDispatcher(provider, "en", zap.NewNop())

	params := []string{"Customer", "1001", "Widget", "1", "StoreName", "500", "PKR"}
	id, err := d.Dispatch(context.Background(), "923001234567", TplOrderConfirmation, params,
		Button{SubType: ButtonQuickReply, Value: "CONFIRM_ORDER:1001"},
		Button{SubType: ButtonQuickReply, Value: "CANCEL_ORDER:1001"},
	)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if id != "wamid.2" {
		t.Fatalf("message id = %q, want wamid.2", id)
	}
	if provider.req.Template != TplOrderConfirmation || provider.req.Language != "en" {
		t.Fatalf("unexpected request: %+v", provider.req)
	}
	for i, p := range params {
		if provider.req.BodyParams[i] != p {
			t.Fatalf("body param %d = %q, want %q", i, provider.req.BodyParams[i], p)
		}
	}
}

func TestDispatchSurfacesDeliveryError(t *testing.T) {
	provider := &fakeProvider{err: &DeliveryError{StatusCode: 500, Body: "upstream down"}}
	d := NewDispatcher(provider, "en", zap.NewNop())

	_, err := d.Dispatch(context.Background(), "923001234567", TplReturnInitiated, []string{"1001"})
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if de.StatusCode != 500 {
		t.Fatalf("status = %d, want 500", de.StatusCode)
	}
}

func TestClientSendPayload(t *testing.T) {
	var got waPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token123" {
			t.Errorf("auth header = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.abc"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token123", 5*time.Second)
	id, err := c.Send(context.Background(), TemplateRequest{
		Recipient:  "923001234567",
		Template:   TplShipmentNotice,
		Language:   "en",
		BodyParams: []string{"1001"},
		Buttons:    []Button{{SubType: ButtonURL, Value: "https://track.example/1001"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.abc" {
		t.Fatalf("message id = %q, want wamid.abc", id)
	}

	if got.MessagingProduct != "whatsapp" || got.Type != "template" || got.To != "923001234567" {
		t.Fatalf("unexpected payload envelope: %+v", got)
	}
	if got.Template.Name != TplShipmentNotice || got.Template.Language.Code != "en" {
		t.Fatalf("unexpected template: %+v", got.Template)
	}
	if len(got.Template.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(got.Template.Components))
	}
	body := got.Template.Components[0]
	if body.Type != "body" || len(body.Parameters) != 1 || body.Parameters[0].Text != "1001" {
		t.Fatalf("unexpected body component: %+v", body)
	}
	btn := got.Template.Components[1]
	if btn.Type != "button" || btn.SubType != "url" || btn.Index != "0" {
		t.Fatalf("unexpected button component: %+v", btn)
	}
	if len(btn.Parameters) != 1 || btn.Parameters[0].Text != "https://track.example/1001" {
		t.Fatalf("unexpected button parameter: %+v", btn.Parameters)
	}
}

func TestClientSendProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"template not approved"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token123", 5*time.Second)
	_, err := c.Send(context.Background(), TemplateRequest{
		Recipient:  "923001234567",
		Template:   TplReturnInitiated,
		Language:   "en",
		BodyParams: []string{"1001"},
	})
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if de.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", de.StatusCode)
	}
}
