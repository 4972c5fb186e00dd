// README: WhatsApp Cloud API client (template sends only).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client talks to the messaging provider's REST endpoint. One call per send,
// bounded timeout, no retries here.
type Client struct {
	apiURL string
	token  string
	http   *http.Client
}

func NewClient(apiURL, token string, timeout time.Duration) *Client {
	return &Client{
		apiURL: apiURL,
		token:  token,
		http:   &http.Client{Timeout: timeout},
	}
}

type waPayload struct {
	MessagingProduct string     `json:"messaging_product"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Template         waTemplate `json:"template"`
}

type waTemplate struct {
	Name       string        `json:"name"`
	Language   waLanguage    `json:"language"`
	Components []waComponent `json:"components,omitempty"`
}

type waLanguage struct {
	Code string `json:"code"`
}

type waComponent struct {
	Type       string        `json:"type"`
	SubType    string        `json:"sub_type,omitempty"`
	Index      string        `json:"index,omitempty"`
	Parameters []waParameter `json:"parameters,omitempty"`
}

type waParameter struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Payload string `json:"payload,omitempty"`
}

type waResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send submits one template message and returns the provider message id.
// Provider rejections and transport failures come back as *DeliveryError.
func (c *Client) Send(ctx context.Context, req TemplateRequest) (string, error) {
	payload := buildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal template payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// timeouts and transport errors count as delivery failures
		return "", &DeliveryError{Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed waResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Messages) == 0 {
		// accepted but unparseable; treat as sent without a correlatable id
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}

func buildPayload(req TemplateRequest) waPayload {
	tpl := waTemplate{
		Name:     req.Template,
		Language: waLanguage{Code: req.Language},
	}

	if len(req.BodyParams) > 0 {
		params := make([]waParameter, len(req.BodyParams))
		for i, p := range req.BodyParams {
			params[i] = waParameter{Type: "text", Text: p}
		}
		tpl.Components = append(tpl.Components, waComponent{Type: "body", Parameters: params})
	}

	for i, b := range req.Buttons {
		comp := waComponent{
			Type:    "button",
			SubType: string(b.SubType),
			Index:   strconv.Itoa(i),
		}
		switch b.SubType {
		case ButtonQuickReply:
			comp.Parameters = []waParameter{{Type: "payload", Payload: b.Value}}
		case ButtonURL:
			comp.Parameters = []waParameter{{Type: "text", Text: b.Value}}
		}
		tpl.Components = append(tpl.Components, comp)
	}

	return waPayload{
		MessagingProduct: "whatsapp",
		To:               req.Recipient,
		Type:             "template",
		Template:         tpl,
	}
}
