// README: Storefront admin client for order note annotations.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"relay/internal/types"
)

// Client writes free-text audit notes back onto storefront orders. Notes are
// a side-channel: callers log failures and move on, they never block or
// reverse a notification already sent.
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

type notePayload struct {
	Note string `json:"note"`
}

func (c *Client) AppendOrderNote(ctx context.Context, ref types.ID, note string) error {
	if c.apiURL == "" {
		// annotation disabled by config
		return nil
	}

	body, err := json.Marshal(notePayload{Note: note})
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}

	url := fmt.Sprintf("%s/orders/%s/notes", c.apiURL, string(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("append order note: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return fmt.Errorf("append order note: storefront status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
