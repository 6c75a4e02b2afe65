package syncer

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

	"tezgah/backend/internal/domain"
)

const (
	PushPath      = "/api/sync/transactions/push"
	PullPath      = "/api/sync/transactions/pull"
	HeartbeatPath = "/api/sync/devices/heartbeat"

	DealerHeader  = "X-Dealer-ID"
	LicenseHeader = "X-License-Key"

	transferTimeout  = 30 * time.Second
	heartbeatTimeout = 10 * time.Second
	maxResponseBytes = 16 << 20
)

var ErrRelayRejected = errors.New("relay rejected request")

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: relay returned HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: relay returned HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Credentials address and authenticate relay calls. They come from the
// local license row.
type Credentials struct {
	BaseURL    string
	DealerID   string
	LicenseKey string
}

func CredentialsFromLicense(license domain.License) Credentials {
	return Credentials{
		BaseURL:    license.APIBaseURL,
		DealerID:   license.DealerID,
		LicenseKey: license.LicenseKey,
	}
}

// Relay is the remote side of the replication protocol.
type Relay interface {
	Push(ctx context.Context, creds Credentials, req domain.PushRequest) (domain.PushResponse, error)
	Pull(ctx context.Context, creds Credentials, req domain.PullRequest) (domain.PullResponse, error)
	Heartbeat(ctx context.Context, creds Credentials, req domain.HeartbeatRequest) error
}

// Client talks JSON over HTTP to the relay.
type Client struct {
	http *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient}
}

func (c *Client) Push(ctx context.Context, creds Credentials, req domain.PushRequest) (domain.PushResponse, error) {
	var resp domain.PushResponse
	if err := c.post(ctx, "push", creds, PushPath, transferTimeout, req, &resp); err != nil {
		return domain.PushResponse{}, err
	}
	if !resp.Success {
		return resp, rejection("push", resp.Error, resp.Message)
	}
	return resp, nil
}

func (c *Client) Pull(ctx context.Context, creds Credentials, req domain.PullRequest) (domain.PullResponse, error) {
	var resp domain.PullResponse
	if err := c.post(ctx, "pull", creds, PullPath, transferTimeout, req, &resp); err != nil {
		return domain.PullResponse{}, err
	}
	if !resp.Success {
		return resp, rejection("pull", resp.Error, resp.Message)
	}
	return resp, nil
}

// Heartbeat ignores the response body; only the status is checked.
func (c *Client) Heartbeat(ctx context.Context, creds Credentials, req domain.HeartbeatRequest) error {
	return c.post(ctx, "heartbeat", creds, HeartbeatPath, heartbeatTimeout, req, nil)
}

func rejection(op string, msgs ...string) error {
	for _, msg := range msgs {
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", op, ErrRelayRejected, msg)
		}
	}
	return fmt.Errorf("%s: %w", op, ErrRelayRejected)
}

func (c *Client) post(ctx context.Context, op string, creds Credentials, path string, timeout time.Duration, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(creds.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DealerHeader, creds.DealerID)
	req.Header.Set(LicenseHeader, creds.LicenseKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(truncate(raw, 256)))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
