package peer

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

	"octo/internal/domain"
)

const (
	IdentityPath  = "/koi-net/identity"
	HandshakePath = "/koi-net/handshake"
	PollPath      = "/koi-net/events/poll"
	ConfirmPath   = "/koi-net/events/confirm"
	BroadcastPath = "/koi-net/events/broadcast"

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 8 << 20
)

// StatusError is a non-2xx answer from a peer.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("peer responded %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("peer responded %d", e.StatusCode)
}

// Temporary reports whether the peer may accept the same request later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// NetworkError is a request that never got an answer.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Temporary() bool {
	return true
}

// Client speaks the KOI-net peer protocol over HTTP. Every request is bounded by the client timeout.
type Client struct {
	httpClient *http.Client
}

func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

func NewWithHTTPClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		return New(0)
	}
	return &Client{httpClient: httpClient}
}

func (c *Client) Identity(ctx context.Context, baseURL string) (domain.Node, error) {
	var node domain.Node
	if err := c.do(ctx, http.MethodGet, baseURL, IdentityPath, nil, &node); err != nil {
		return domain.Node{}, err
	}
	if node.RID == "" {
		return domain.Node{}, errors.New("peer identity missing rid")
	}
	return node, nil
}

func (c *Client) Handshake(ctx context.Context, baseURL string, env domain.SignedEnvelope) (domain.SignedEnvelope, error) {
	var reply domain.SignedEnvelope
	err := c.do(ctx, http.MethodPost, baseURL, HandshakePath, env, &reply)
	return reply, err
}

func (c *Client) Poll(ctx context.Context, baseURL string, env domain.SignedEnvelope) (domain.SignedEnvelope, error) {
	var reply domain.SignedEnvelope
	err := c.do(ctx, http.MethodPost, baseURL, PollPath, env, &reply)
	return reply, err
}

func (c *Client) Confirm(ctx context.Context, baseURL string, env domain.SignedEnvelope) error {
	return c.do(ctx, http.MethodPost, baseURL, ConfirmPath, env, nil)
}

func (c *Client) Push(ctx context.Context, baseURL string, env domain.SignedEnvelope) error {
	return c.do(ctx, http.MethodPost, baseURL, BroadcastPath, env, nil)
}

func (c *Client) do(ctx context.Context, method, baseURL, path string, payload any, out any) error {
	if c == nil || c.httpClient == nil {
		return errors.New("peer client is nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return fmt.Errorf("%w: peer base url is required", domain.ErrInvalidRequest)
	}
	var body io.Reader = http.NoBody
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &NetworkError{Op: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode peer response: %w", err)
	}
	return nil
}

func statusError(status int, body []byte) *StatusError {
	out := &StatusError{StatusCode: status}
	var decoded struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &decoded) == nil {
		out.Code = decoded.Code
		out.Message = decoded.Message
	}
	return out
}
