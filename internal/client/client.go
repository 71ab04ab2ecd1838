// Package client implements the worker side of the orchestrator HTTP
// protocol: register, poll for an assignment, acknowledge, report status.
// Transient failures are retried with jittered exponential backoff; 4xx
// responses are not retried because they signal a protocol violation, not a
// flaky network.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"batchfleet/internal/dispatch"
	"batchfleet/pkg/backoff"
)

const maxRetries = 4

// Client talks to one orchestrator.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the orchestrator at baseURL. apiKey may be empty.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// StatusError is a non-2xx response from the orchestrator.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("orchestrator returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("orchestrator returned %d", e.Code)
}

// IsClientError reports whether err is (or wraps) a 4xx response.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// Register announces the worker and returns its assigned identifier.
func (c *Client) Register(ctx context.Context, hostname string, capabilities []string) (string, error) {
	body := map[string]any{"hostname": hostname}
	if len(capabilities) > 0 {
		body["capabilities"] = capabilities
	}

	var resp struct {
		WorkerID string `json:"workerId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/workers", body, &resp); err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	if resp.WorkerID == "" {
		return "", fmt.Errorf("register: orchestrator returned no worker ID")
	}
	return resp.WorkerID, nil
}

// GetAssignment polls for the next directive.
func (c *Client) GetAssignment(ctx context.Context, workerID string) (*dispatch.Assignment, error) {
	assignment := &dispatch.Assignment{}
	path := fmt.Sprintf("/v1/workers/%s/assignment", workerID)
	if err := c.do(ctx, http.MethodGet, path, nil, assignment); err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return assignment, nil
}

// Ack confirms receipt of the current assignment.
func (c *Client) Ack(ctx context.Context, workerID string) error {
	path := fmt.Sprintf("/v1/workers/%s/ack", workerID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// ReportStatus sends a status report.
func (c *Client) ReportStatus(ctx context.Context, workerID, status, detail string) error {
	path := fmt.Sprintf("/v1/workers/%s/status", workerID)
	body := map[string]string{"status": status}
	if detail != "" {
		body["detail"] = detail
	}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("report %s: %w", status, err)
	}
	return nil
}

// do runs one request with retries, decoding a JSON response into out when
// out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.ExponentialJitter(attempt, nil)):
			}
		}

		lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if IsClientError(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errBody)
		return &StatusError{Code: resp.StatusCode, Message: errBody.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
