package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one email handed to the gateway.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"html_body"`
}

// Handle is a live session against the mail gateway. It is reusable within a
// single dispatch job and must be closed when the job finishes.
type Handle interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Gateway establishes transport handles. Establishing a handle can itself
// fail (DNS, connect timeout) and is retried by the Transport.
type Gateway interface {
	Connect(ctx context.Context) (Handle, error)
}

// HTTPGateway talks to the remote mail relay over HTTP. The relay is slow
// and unreliable; callers own all retry behavior.
type HTTPGateway struct {
	baseURL string
	from    string
	timeout time.Duration
}

// NewHTTPGateway constructs a gateway client.
func NewHTTPGateway(baseURL, from string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{baseURL: baseURL, from: from, timeout: timeout}
}

// Connect verifies the relay is reachable and returns a session bound to a
// dedicated client.
func (g *HTTPGateway) Connect(ctx context.Context) (Handle, error) {
	client := &http.Client{Timeout: g.timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.baseURL+"/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		client.CloseIdleConnections()
		return nil, err
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()              //nolint:errcheck

	return &httpHandle{client: client, baseURL: g.baseURL, from: g.from}, nil
}

type httpHandle struct {
	client  *http.Client
	baseURL string
	from    string
}

func (h *httpHandle) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = h.from
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(detail))
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

func (h *httpHandle) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
