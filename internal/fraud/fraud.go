// Package fraud implements multi-factor transaction risk scoring.
//
// Every transaction is evaluated against 5 weighted factors: velocity,
// amount anomaly, geographic anomaly, device novelty, and merchant novelty.
// Scores range from 0 (safe) to 100 (high risk) and map to a discrete risk
// level. Each factor carries a human-readable explanation so an analyst can
// see exactly which evidence fired.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RiskLevel classifies an aggregate score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severity grades a single factor's contribution.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// FactorType identifies one dimension of fraud evidence.
type FactorType string

const (
	FactorVelocity   FactorType = "velocity"
	FactorAmount     FactorType = "amount_anomaly"
	FactorGeographic FactorType = "geographic_anomaly"
	FactorDevice     FactorType = "device_anomaly"
	FactorBehavioral FactorType = "behavioral_anomaly"
)

// SpendingPattern is an informational tier derived from average spend.
// It is reported on profiles but never consumed by scoring.
type SpendingPattern string

const (
	SpendingConservative SpendingPattern = "conservative"
	SpendingModerate     SpendingPattern = "moderate"
	SpendingAggressive   SpendingPattern = "aggressive"
)

// ErrInvalidTransaction is returned when an event is missing its user ID or
// has a non-positive amount. It is the only hard error Score produces; all
// other failures degrade into "unavailable" evidence.
var ErrInvalidTransaction = errors.New("fraud: invalid transaction")

// Location is where a transaction originated. Country may be empty when
// IP geolocation failed upstream.
type Location struct {
	IP      string `json:"ip"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// Device identifies the client hardware via a stable fingerprint hash.
type Device struct {
	Fingerprint string `json:"fingerprint"`
	UserAgent   string `json:"userAgent"`
}

// TransactionEvent is the immutable input to a single scoring call.
//
// Timestamp is event time in epoch milliseconds. It is used only for the
// impossible-travel comparison against the previous transaction; velocity
// windows are anchored to wall-clock "now", never to Timestamp.
type TransactionEvent struct {
	UserID    string            `json:"userId"`
	Amount    float64           `json:"amount"`
	Merchant  string            `json:"merchant"`
	Location  Location          `json:"location"`
	Device    Device            `json:"device"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields the engine refuses to score without.
func (e *TransactionEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidTransaction)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	return nil
}

// UserBehaviorProfile is a cached statistical summary of a user's trailing
// 30-day transaction history. Profiles are immutable once cached: a scoring
// call either reads a stable snapshot or the whole entry is replaced.
type UserBehaviorProfile struct {
	UserID                   string          `json:"userId"`
	AverageTransactionAmount float64         `json:"averageTransactionAmount"`
	CommonMerchants          []string        `json:"commonMerchants"`
	CommonLocations          []string        `json:"commonLocations"`
	TransactionVelocity      float64         `json:"transactionVelocity"` // transactions per hour
	SpendingPattern          SpendingPattern `json:"spendingPattern"`
	LastUpdate               time.Time       `json:"lastUpdate"`
}

// FraudFactor is one analyzer's verdict on a single transaction.
type FraudFactor struct {
	Type        FactorType `json:"type"`
	Score       float64    `json:"score"` // 0-100, pre-weighting
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Unavailable bool       `json:"unavailable,omitempty"` // evidence could not be evaluated
}

// FraudScore is the engine's verdict on a single transaction.
type FraudScore struct {
	Score           float64       `json:"score"` // 0-100, weighted
	RiskLevel       RiskLevel     `json:"riskLevel"`
	Factors         []FraudFactor `json:"factors"` // fixed analyzer order
	Recommendations []string      `json:"recommendations"`
}

// Assessment is the durable audit record of one scoring decision.
type Assessment struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Event       *TransactionEvent `json:"event"`
	Score       float64           `json:"score"`
	RiskLevel   RiskLevel         `json:"riskLevel"`
	Factors     []FraudFactor     `json:"factors"`
	EvaluatedAt time.Time         `json:"evaluatedAt"`
}

// HistoryRecord is a single historical transaction as returned by the
// history collaborator.
type HistoryRecord struct {
	Amount    float64   `json:"amount"`
	Merchant  string    `json:"merchant"`
	Country   string    `json:"country"`
	CreatedAt time.Time `json:"createdAt"`
}

// History is the historical-transaction query collaborator. It is the only
// I/O the engine performs during scoring and is the source of truth for a
// user's committed transaction order.
type History interface {
	// CountSince returns the number of transactions for userID at or after since.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	// ListSince returns transactions for userID at or after since.
	ListSince(ctx context.Context, userID string, since time.Time) ([]HistoryRecord, error)
	// LastTransaction returns the most recent transaction for userID,
	// or (nil, nil) when the user has none.
	LastTransaction(ctx context.Context, userID string) (*HistoryRecord, error)
}

// HistoryWriter appends committed transactions to the history store.
// Scoring never writes history; ingestion does.
type HistoryWriter interface {
	Append(ctx context.Context, userID string, rec HistoryRecord) error
}

// AuditStore persists scoring decisions for later review. Writes are
// best-effort with respect to the scoring call.
type AuditStore interface {
	Record(ctx context.Context, a *Assessment) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error)
}
