// Package signer holds the client side of the protocol: building and signing
// update payloads and relaying them to a node over HTTP.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/types"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx answer from the node.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to a node's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a client for the node at baseURL, e.g. http://localhost:9080.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Nonce returns the next nonce the node expects for key.
func (c *Client) Nonce(ctx context.Context, key common.Address) (uint64, error) {
	var out types.NonceResponse
	if err := c.get(ctx, "/v1/nonces/"+key.Hex(), &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// Submit relays a signed single update.
func (c *Client) Submit(ctx context.Context, req types.SubmitRequest) (types.SubmitResponse, error) {
	var out types.SubmitResponse
	err := c.post(ctx, "/v1/updates", req, &out)
	return out, err
}

// SubmitBatch relays a signed batch update.
func (c *Client) SubmitBatch(ctx context.Context, req types.BatchSubmitRequest) (types.SubmitResponse, error) {
	var out types.SubmitResponse
	err := c.post(ctx, "/v1/updates/batch", req, &out)
	return out, err
}

// Hash asks the node for the hash it expects a single update to be signed over.
func (c *Client) Hash(ctx context.Context, u model.ScoreUpdate) (types.HashResponse, error) {
	var out types.HashResponse
	err := c.post(ctx, "/v1/hash", u, &out)
	return out, err
}

// Score returns the stored score data of subject.
func (c *Client) Score(ctx context.Context, subject common.Address) (types.ScoreResponse, error) {
	var out types.ScoreResponse
	err := c.get(ctx, "/v1/scores/"+subject.Hex(), &out)
	return out, err
}

// Leaderboard returns the top limit ranked subjects.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	var out []types.Entry
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.get(ctx, "/v1/leaderboard?"+q.Encode(), &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e types.ErrorResponse
		if json.Unmarshal(body, &e) == nil {
			apiErr.Code, apiErr.Message = e.Code, e.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
