package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender delivers one event to a transport endpoint.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// Webhook POSTs events as JSON. Delivery is single-attempt with a short
// timeout; the router owns the drop-on-failure policy.
type Webhook struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhook(endpoint string) *Webhook {
	return &Webhook{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, event Event) error {
	if w.Endpoint == "" {
		return fmt.Errorf("alert: webhook endpoint not configured")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("alert: webhook status=%d", resp.StatusCode)
	}
	return nil
}
