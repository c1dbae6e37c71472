package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *FraudguardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *FraudguardClient) *Handlers {
	return &Handlers{client: client}
}

// HandleScoreTransaction scores a transaction through the API.
func (h *Handlers) HandleScoreTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	merchant := req.GetString("merchant", "")
	if merchant == "" {
		return mcp.NewToolResultError("merchant is required"), nil
	}
	amount := req.GetFloat("amount", 0)
	if amount <= 0 {
		return mcp.NewToolResultError("amount must be a positive number"), nil
	}

	payload := map[string]any{
		"userId":    userID,
		"amount":    amount,
		"merchant":  merchant,
		"timestamp": time.Now().UnixMilli(),
		"location": map[string]any{
			"ip":      req.GetString("ip", ""),
			"country": req.GetString("country", ""),
			"city":    req.GetString("city", ""),
		},
		"device": map[string]any{
			"fingerprint": req.GetString("device_fingerprint", ""),
		},
	}

	raw, err := h.client.ScoreTransaction(ctx, payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scoring failed: %v", err)), nil
	}

	text, err := formatScore(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse score: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetUserProfile returns a user's behavior profile.
func (h *Handlers) HandleGetUserProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetUserProfile(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch profile: %v", err)), nil
	}

	text, err := formatProfile(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse profile: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListAssessments lists recent assessments for a user.
func (h *Handlers) HandleListAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListAssessments(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	text, err := formatAssessments(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- response formatting ---

type scoreResponse struct {
	Score     float64 `json:"score"`
	RiskLevel string  `json:"riskLevel"`
	Factors   []struct {
		Type        string  `json:"type"`
		Score       float64 `json:"score"`
		Severity    string  `json:"severity"`
		Description string  `json:"description"`
		Unavailable bool    `json:"unavailable,omitempty"`
	} `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

func formatScore(raw json.RawMessage) (string, error) {
	var s scoreResponse
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk score: %.2f / 100 (%s)\n\n", s.Score, strings.ToUpper(s.RiskLevel))
	sb.WriteString("Factors:\n")
	for _, f := range s.Factors {
		if f.Unavailable {
			fmt.Fprintf(&sb, "  - %s: unavailable (%s)\n", f.Type, f.Description)
			continue
		}
		fmt.Fprintf(&sb, "  - %s: %.0f [%s] %s\n", f.Type, f.Score, f.Severity, f.Description)
	}
	if len(s.Recommendations) > 0 {
		sb.WriteString("\nRecommended actions:\n")
		for _, r := range s.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}
	return sb.String(), nil
}

type profileResponse struct {
	UserID          string   `json:"userId"`
	AvgAmount       float64  `json:"averageTransactionAmount"`
	CommonMerchants []string `json:"commonMerchants"`
	CommonLocations []string `json:"commonLocations"`
	Velocity        float64  `json:"transactionVelocity"`
	SpendingPattern string   `json:"spendingPattern"`
}

func formatProfile(raw json.RawMessage) (string, error) {
	var p profileResponse
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Behavior profile for %s\n\n", p.UserID)
	fmt.Fprintf(&sb, "Average amount: %.2f\n", p.AvgAmount)
	fmt.Fprintf(&sb, "Spending pattern: %s\n", p.SpendingPattern)
	fmt.Fprintf(&sb, "Velocity: %.4f tx/hour\n", p.Velocity)
	if len(p.CommonMerchants) > 0 {
		fmt.Fprintf(&sb, "Common merchants: %s\n", strings.Join(p.CommonMerchants, ", "))
	}
	if len(p.CommonLocations) > 0 {
		fmt.Fprintf(&sb, "Typical countries: %s\n", strings.Join(p.CommonLocations, ", "))
	}
	return sb.String(), nil
}

type assessmentsResponse struct {
	Assessments []struct {
		ID          string  `json:"id"`
		Score       float64 `json:"score"`
		RiskLevel   string  `json:"riskLevel"`
		EvaluatedAt string  `json:"evaluatedAt"`
		Event       struct {
			Amount   float64 `json:"amount"`
			Merchant string  `json:"merchant"`
		} `json:"event"`
	} `json:"assessments"`
}

func formatAssessments(raw json.RawMessage) (string, error) {
	var resp assessmentsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Assessments) == 0 {
		return "No assessments found for this user.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d assessments (newest first):\n\n", len(resp.Assessments))
	for _, a := range resp.Assessments {
		fmt.Fprintf(&sb, "  %s  %.2f [%s]  %.2f at %s  (%s)\n",
			a.ID, a.Score, a.RiskLevel, a.Event.Amount, a.Event.Merchant, a.EvaluatedAt)
	}
	return sb.String(), nil
}
