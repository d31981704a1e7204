package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 10 * time.Second

// HTTPWebhookCaller is the net/http implementation of WebhookCaller. The
// request timeout is enforced per call, independent of any retry budget the
// caller applies around it.
type HTTPWebhookCaller struct {
	client *http.Client
}

// NewHTTPWebhookCaller creates a webhook caller. The transport-level timeout
// is left open; per-request deadlines come from the request's Timeout.
func NewHTTPWebhookCaller() *HTTPWebhookCaller {
	return &HTTPWebhookCaller{
		client: &http.Client{},
	}
}

// Call performs the HTTP request and returns the response. A non-2xx status
// is an error so retry policies treat it as a transient failure.
func (c *HTTPWebhookCaller) Call(ctx context.Context, req WebhookRequest) (*WebhookResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode webhook body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	result := &WebhookResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return result, nil
}
