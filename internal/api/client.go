package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relaysync/internal/config"
	"relaysync/internal/domain"
)

// TokenSource yields the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StoreTokenSource reads the cached token from the persistent store so
// worker-initiated replay can authenticate without the application running.
type StoreTokenSource struct {
	Store domain.SyncStore
	Name  string
}

func (s *StoreTokenSource) Token(ctx context.Context) (string, error) {
	return s.Store.GetAuthToken(ctx, s.Name)
}

// StaticTokenSource returns a fixed token. Used in tests.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// Client calls the backend's batch mutation endpoints.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(cfg config.UpstreamConfig, tokens TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type batchRequest struct {
	Items []json.RawMessage `json:"items"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// BatchCreate posts new records to {collection}/batch.
func (c *Client) BatchCreate(ctx context.Context, collection string, items []json.RawMessage) (*domain.BatchResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/batch", c.baseURL, collection)
	return c.doBatch(ctx, http.MethodPost, endpoint, batchRequest{Items: items}, "")
}

// BatchUpdate puts changed records to {collection}/batch-update.
func (c *Client) BatchUpdate(ctx context.Context, collection string, items []json.RawMessage) (*domain.BatchResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/batch-update", c.baseURL, collection)
	return c.doBatch(ctx, http.MethodPut, endpoint, batchRequest{Items: items}, "")
}

// BatchDelete removes records via {collection}/batch-delete.
func (c *Client) BatchDelete(ctx context.Context, collection string, ids []string) (*domain.BatchResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/batch-delete", c.baseURL, collection)
	return c.doBatch(ctx, http.MethodDelete, endpoint, deleteRequest{IDs: ids}, "")
}

// ResolveUpdate resubmits a single payload with a conflict-resolution header.
func (c *Client) ResolveUpdate(ctx context.Context, collection string, payload json.RawMessage, resolution string) error {
	endpoint := fmt.Sprintf("%s/%s/batch-update", c.baseURL, collection)
	resp, err := c.doBatch(ctx, http.MethodPut, endpoint, batchRequest{Items: []json.RawMessage{payload}}, resolution)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("resolution rejected by server")
	}
	return nil
}

func (c *Client) doBatch(ctx context.Context, method, endpoint string, body any, resolution string) (*domain.BatchResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode batch body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if resolution != "" {
		req.Header.Set("X-Conflict-Resolution", resolution)
	}
	if err := c.addAuth(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: http %d", ErrConflict, resp.StatusCode)
	case resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var out domain.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return &out, nil
}

func (c *Client) addAuth(req *http.Request) error {
	token, err := c.tokens.Token(req.Context())
	if err != nil {
		return fmt.Errorf("load auth token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
