package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewFraudguardClient(Config{APIURL: ts.URL})
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_transaction",
			"message": "amount must be positive",
		})
	}))
	defer ts.Close()

	client := NewFraudguardClient(Config{APIURL: ts.URL})
	_, err := client.ScoreTransaction(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "amount must be positive")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewFraudguardClient(Config{APIURL: ts.URL})
	_, err := client.GetUserProfile(context.Background(), "user1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ListAssessments_QueryParams(t *testing.T) {
	var gotPath, gotLimit string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"assessments": []}`))
	}))
	defer ts.Close()

	client := NewFraudguardClient(Config{APIURL: ts.URL})
	_, err := client.ListAssessments(context.Background(), "user1", 5)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/users/user1/assessments", gotPath)
	assert.Equal(t, "5", gotLimit)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleScoreTransaction(t *testing.T) {
	var gotBody map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/score", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{
			"score": 76.75,
			"riskLevel": "high",
			"factors": [
				{"type": "velocity", "score": 85, "severity": "high", "description": "unusual velocity"},
				{"type": "amount_anomaly", "score": 0, "severity": "low", "description": "analysis unavailable", "unavailable": true}
			],
			"recommendations": ["enable rate limiting for this user"]
		}`))
	}))
	defer cleanup()

	result, err := h.HandleScoreTransaction(context.Background(), makeRequest(map[string]any{
		"user_id":  "user1",
		"amount":   5000.0,
		"merchant": "Luxury Imports",
		"country":  "RU",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "76.75")
	assert.Contains(t, text, "HIGH")
	assert.Contains(t, text, "unusual velocity")
	assert.Contains(t, text, "unavailable")
	assert.Contains(t, text, "rate limiting")

	assert.Equal(t, "user1", gotBody["userId"])
	assert.Equal(t, 5000.0, gotBody["amount"])
}

func TestHandleScoreTransaction_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called for invalid arguments")
	}))
	defer cleanup()

	cases := []map[string]any{
		{"amount": 10.0, "merchant": "Shop"},           // no user_id
		{"user_id": "u", "merchant": "Shop"},           // no amount
		{"user_id": "u", "amount": 10.0},               // no merchant
		{"user_id": "u", "amount": -1.0, "merchant": "S"}, // bad amount
	}
	for i, args := range cases {
		result, err := h.HandleScoreTransaction(context.Background(), makeRequest(args))
		require.NoError(t, err, "case %d", i)
		assert.True(t, result.IsError, "case %d should be a tool error", i)
	}
}

func TestHandleGetUserProfile(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/user1/profile", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"userId": "user1",
			"averageTransactionAmount": 149.5,
			"commonMerchants": ["Grocer", "Cafe"],
			"commonLocations": ["US"],
			"transactionVelocity": 0.05,
			"spendingPattern": "moderate"
		}`))
	}))
	defer cleanup()

	result, err := h.HandleGetUserProfile(context.Background(), makeRequest(map[string]any{"user_id": "user1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "149.50")
	assert.Contains(t, text, "moderate")
	assert.Contains(t, text, "Grocer, Cafe")
	assert.Contains(t, text, "US")
}

func TestHandleListAssessments(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"assessments": [
				{"id": "asmt_2", "score": 76.75, "riskLevel": "high",
				 "evaluatedAt": "2026-08-30T10:00:00Z",
				 "event": {"amount": 5000, "merchant": "Luxury Imports"}},
				{"id": "asmt_1", "score": 12.5, "riskLevel": "low",
				 "evaluatedAt": "2026-08-30T09:00:00Z",
				 "event": {"amount": 20, "merchant": "Cafe"}}
			]
		}`))
	}))
	defer cleanup()

	result, err := h.HandleListAssessments(context.Background(), makeRequest(map[string]any{"user_id": "user1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 assessments")
	assert.Contains(t, text, "asmt_2")
	assert.Contains(t, text, "Luxury Imports")
}

func TestHandleListAssessments_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"assessments": []}`))
	}))
	defer cleanup()

	result, err := h.HandleListAssessments(context.Background(), makeRequest(map[string]any{"user_id": "ghost"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No assessments")
}

func TestHandleAPIFailureBecomesToolError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "internal_error"}`))
	}))
	defer cleanup()

	result, err := h.HandleGetUserProfile(context.Background(), makeRequest(map[string]any{"user_id": "user1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
