// Package api is the agent's HTTP client for the ledger server. It moves
// raw JSON bodies so the sync engine can shuttle cached payloads without
// re-marshalling them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"conti/internal/core"
)

// ErrUnavailable wraps transport failures and server errors. Uploads that
// hit it stay pending and retry on the next cycle.
var ErrUnavailable = errors.New("server unavailable")

// StatusError reports a definitive server rejection (4xx). Records that
// earn one will never be accepted as-is, so retrying is pointless.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server rejected request: %d %s", e.Code, e.Message)
}

// Item is one entity as the server returned it. Body keeps the full wire
// JSON; ID and UpdatedAt are lifted out for reconciliation.
type Item struct {
	ID        string
	UpdatedAt time.Time
	Body      json.RawMessage
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Create posts a new entity and returns the server's version of it.
func (c *Client) Create(ctx context.Context, entityType core.EntityType, payload []byte) (Item, error) {
	return c.send(ctx, http.MethodPost, "/"+string(entityType), payload, http.StatusCreated)
}

// Update replaces an existing entity by its server identifier.
func (c *Client) Update(ctx context.Context, entityType core.EntityType, serverID string, payload []byte) (Item, error) {
	return c.send(ctx, http.MethodPut, "/"+string(entityType)+"/"+serverID, payload, http.StatusOK)
}

// Delete removes an entity by its server identifier.
func (c *Client) Delete(ctx context.Context, entityType core.EntityType, serverID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/"+string(entityType)+"/"+serverID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

// ListTransactions fetches the newest transactions up to limit.
func (c *Client) ListTransactions(ctx context.Context, limit int) ([]Item, error) {
	return c.list(ctx, "/transactions?limit="+strconv.Itoa(limit))
}

func (c *Client) ListAccounts(ctx context.Context) ([]Item, error) {
	return c.list(ctx, "/accounts")
}

func (c *Client) ListCategories(ctx context.Context) ([]Item, error) {
	return c.list(ctx, "/categories")
}

func (c *Client) list(ctx context.Context, path string) ([]Item, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}

	items := make([]Item, 0, len(raw))
	for _, body := range raw {
		item, err := parseItem(body)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, wantStatus int) (Item, error) {
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(payload))
	if err != nil {
		return Item{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, wantStatus); err != nil {
		return Item{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Item{}, fmt.Errorf("read response body: %w", err)
	}
	return parseItem(body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &StatusError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}
	return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
}

func parseItem(body json.RawMessage) (Item, error) {
	var envelope struct {
		ID        string    `json:"id"`
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Item{}, fmt.Errorf("decode entity envelope: %w", err)
	}
	return Item{ID: envelope.ID, UpdatedAt: envelope.UpdatedAt, Body: body}, nil
}
