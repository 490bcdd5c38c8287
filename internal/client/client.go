// Package client talks to a running convlink server over its JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/convlink/internal/api"
	"github.com/banshee-data/convlink/internal/converter"
	"github.com/banshee-data/convlink/internal/protocol"
)

// Doer sends HTTP requests. *http.Client satisfies it; MockDoer is used in
// tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a typed wrapper around the server's /api routes.
type Client struct {
	base string
	http Doer
}

// New returns a client for the server at base, e.g. "http://localhost:8080".
// A nil hc uses http.DefaultClient.
func New(base string, hc Doer) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Poll asks the server to poll the device.
func (c *Client) Poll(ctx context.Context) (converter.Snapshot, error) {
	var snap converter.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/telemetry", nil, &snap)
	return snap, err
}

func (c *Client) command(ctx context.Context, path string, body interface{}) (protocol.Verification, error) {
	var resp api.VerificationResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return protocol.Verification{}, err
	}
	return resp.Verification, nil
}

// Start starts the converter.
func (c *Client) Start(ctx context.Context) (protocol.Verification, error) {
	return c.command(ctx, "/api/start", nil)
}

// Stop shuts the converter down.
func (c *Client) Stop(ctx context.Context) (protocol.Verification, error) {
	return c.command(ctx, "/api/stop", nil)
}

// Send issues an arbitrary command.
func (c *Client) Send(ctx context.Context, cmd protocol.Command) (protocol.Verification, error) {
	req := api.CommandRequest{Opcode: string(cmd.Opcode)}
	if cmd.HasValue {
		v := cmd.Value
		req.Value = &v
	}
	return c.command(ctx, "/api/commands", req)
}

// Setpoint returns the server's current set-point.
func (c *Client) Setpoint(ctx context.Context) (converter.Setpoint, error) {
	var resp api.SetpointResponse
	err := c.do(ctx, http.MethodGet, "/api/setpoint", nil, &resp)
	return resp.Setpoint, err
}

func (c *Client) updateSetpoint(ctx context.Context, path string, body interface{}) (protocol.Verification, error) {
	var resp api.SetpointResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return protocol.Verification{}, err
	}
	if resp.Verification == nil {
		return protocol.Verification{}, nil
	}
	return resp.Verification.Verification, nil
}

// SetCurrent sets the current set-point in amps.
func (c *Client) SetCurrent(ctx context.Context, amps float64) (protocol.Verification, error) {
	return c.updateSetpoint(ctx, "/api/setpoint", api.SetpointRequest{Amps: &amps})
}

// SetReference sends a raw reference.
func (c *Client) SetReference(ctx context.Context, raw uint16) (protocol.Verification, error) {
	return c.updateSetpoint(ctx, "/api/setpoint", api.SetpointRequest{Reference: &raw})
}

// SetOffset changes the reference offset without sending a command.
func (c *Client) SetOffset(ctx context.Context, offset int) error {
	_, err := c.updateSetpoint(ctx, "/api/setpoint", api.SetpointRequest{Offset: &offset})
	return err
}

// Increment adds delta amps to the set-point.
func (c *Client) Increment(ctx context.Context, delta float64) (protocol.Verification, error) {
	return c.updateSetpoint(ctx, "/api/setpoint/increment", api.IncrementRequest{Delta: delta})
}
