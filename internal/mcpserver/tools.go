package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Fraudguard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolScoreTransaction = mcp.NewTool("score_transaction",
	mcp.WithDescription(
		"Score a payment transaction for fraud risk. "+
			"Returns a 0-100 composite score, a risk level (low/medium/high/critical), "+
			"the contributing risk factors, and recommended actions. "+
			"Use this before approving a payment."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The paying user's ID (e.g. 'user_123')")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Transaction amount in the account currency (e.g. 149.99)")),
	mcp.WithString("merchant",
		mcp.Required(),
		mcp.Description("Merchant name or descriptor (e.g. 'ACME Store')")),
	mcp.WithString("country",
		mcp.Description("Two-letter country code of the transaction origin (e.g. 'US')")),
	mcp.WithString("city",
		mcp.Description("City of the transaction origin")),
	mcp.WithString("ip",
		mcp.Description("Client IP address the transaction came from")),
	mcp.WithString("device_fingerprint",
		mcp.Description("Stable device fingerprint, if the client computed one")),
)

var ToolGetUserProfile = mcp.NewTool("get_user_profile",
	mcp.WithDescription(
		"Get a user's behavior profile: average transaction amount, common merchants, "+
			"typical countries, hourly transaction velocity, and spending pattern. "+
			"Use this to understand what 'normal' looks like for a user before judging a transaction."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's ID (e.g. 'user_123')")),
)

var ToolListAssessments = mcp.NewTool("list_assessments",
	mcp.WithDescription(
		"List recent fraud assessments for a user, newest first. "+
			"Each entry includes the score, risk level, and the factors that drove the decision."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user's ID (e.g. 'user_123')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 20)")),
)
