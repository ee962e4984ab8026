// Package memsvc talks to the remote semantic memory service. The
// local store mirrors what this service holds; the service owns search
// ranking and embedding, the local store owns durability and listing.
package memsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/recallhq/recall/internal/errs"
)

// Config holds configuration for the memory service client.
type Config struct {
	// BaseURL is the service endpoint (required).
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds each request (default: 15s).
	Timeout time.Duration

	// Logger is an optional structured logger.
	Logger *slog.Logger
}

// Client is an HTTP client for the memory service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Entry is a memory as the remote service sees it.
type Entry struct {
	ID      string   `json:"id"`
	Content string   `json:"memory"`
	Kind    string   `json:"kind,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// SearchResult is one ranked hit from semantic search.
type SearchResult struct {
	ID      string  `json:"id"`
	Content string  `json:"memory"`
	Score   float64 `json:"score"`
}

// NewClient creates a memory service client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errs.Validation("memory service base URL is required", nil)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "memsvc"),
	}, nil
}

// Add stores a memory for a user and returns the remote id.
func (c *Client) Add(ctx context.Context, userID, content, kind string, tags []string) (string, error) {
	payload := map[string]any{
		"user_id": userID,
		"memory":  content,
	}
	if kind != "" {
		payload["kind"] = kind
	}
	if len(tags) > 0 {
		payload["tags"] = tags
	}

	var resp Entry
	if err := c.do(ctx, http.MethodPost, "/memories", payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errs.Delivery("memory service returned no id", nil)
	}
	c.logger.Debug("memory added", "remote_id", resp.ID, "user_id", userID)
	return resp.ID, nil
}

// Update replaces the content of an existing remote memory.
func (c *Client) Update(ctx context.Context, remoteID, content string) error {
	if remoteID == "" {
		return errs.Validation("remote memory id is required", nil)
	}
	payload := map[string]any{"memory": content}
	return c.do(ctx, http.MethodPut, "/memories/"+url.PathEscape(remoteID), payload, nil)
}

// Delete removes a remote memory.
func (c *Client) Delete(ctx context.Context, remoteID string) error {
	if remoteID == "" {
		return errs.Validation("remote memory id is required", nil)
	}
	return c.do(ctx, http.MethodDelete, "/memories/"+url.PathEscape(remoteID), nil, nil)
}

// Search runs a semantic query over a user's memories.
func (c *Client) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	payload := map[string]any{
		"user_id": userID,
		"query":   query,
		"limit":   limit,
	}
	var resp struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/search", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errs.Delivery("encode memory service request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errs.Delivery("build memory service request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Delivery("memory service request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.logger.Error("memory service error",
			"method", method,
			"path", path,
			"status", resp.StatusCode)
		return errs.Delivery(
			fmt.Sprintf("memory service %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody))),
			nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Delivery("decode memory service response", err)
	}
	return nil
}
