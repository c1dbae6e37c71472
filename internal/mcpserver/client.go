package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Fraudguard API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// FraudguardClient is a pure HTTP client for the Fraudguard API.
type FraudguardClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewFraudguardClient creates a new client for the Fraudguard API.
func NewFraudguardClient(cfg Config) *FraudguardClient {
	return &FraudguardClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *FraudguardClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ScoreTransaction submits a transaction for fraud scoring.
func (c *FraudguardClient) ScoreTransaction(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/v1/score", nil, payload)
}

// GetUserProfile returns the behavior profile for a user.
func (c *FraudguardClient) GetUserProfile(ctx context.Context, userID string) (json.RawMessage, error) {
	path := "/api/v1/users/" + url.PathEscape(userID) + "/profile"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// ListAssessments returns recent fraud assessments for a user, newest first.
func (c *FraudguardClient) ListAssessments(ctx context.Context, userID string, limit int) (json.RawMessage, error) {
	path := "/api/v1/users/" + url.PathEscape(userID) + "/assessments"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}
