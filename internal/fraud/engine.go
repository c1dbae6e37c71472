package fraud

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mnnr/fraudguard/internal/idgen"
	"github.com/mnnr/fraudguard/internal/metrics"
	"github.com/mnnr/fraudguard/internal/retry"
	"github.com/mnnr/fraudguard/internal/traces"
)

// Factor weights. These must sum to exactly 1.0 (tested).
const (
	WeightVelocity   = 0.25
	WeightAmount     = 0.30
	WeightGeographic = 0.20
	WeightDevice     = 0.15
	WeightBehavioral = 0.10
)

// Risk level thresholds on the aggregate 0-100 score.
const (
	ThresholdMedium   = 30
	ThresholdHigh     = 60
	ThresholdCritical = 80
)

const (
	auditWriteTimeout  = 10 * time.Second
	auditWriteAttempts = 3
	auditRetryBase     = 200 * time.Millisecond
)

// unavailableDescription marks a factor whose history query failed.
// Operators can distinguish "low risk" from "could not evaluate".
const unavailableDescription = "analysis unavailable"

// Engine scores transactions against cached per-user behavior profiles.
// One instance per process; all state (profile cache, device set) is held
// on the instance so tests get isolated engines.
type Engine struct {
	history  History
	audit    AuditStore
	profiles *profileStore
	logger   *slog.Logger

	fallbackAvg float64

	// Deployment-wide device fingerprint set. Check-then-add is a single
	// critical section.
	devicesMu    sync.Mutex
	knownDevices map[string]struct{}

	// onAssessment, when set, is invoked after each successful score.
	// Used to fan out alerts; must not block.
	onAssessment func(*Assessment)
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProfileTTL overrides how long cached profiles stay fresh.
func WithProfileTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.profiles.ttl = ttl }
}

// WithFallbackAverage overrides the average amount assumed for users with
// no transaction history.
func WithFallbackAverage(avg float64) Option {
	return func(e *Engine) {
		e.fallbackAvg = avg
		e.profiles.fallbackAvg = avg
	}
}

// WithAssessmentHook registers a callback invoked after every scored
// transaction, on the scoring goroutine. Keep it cheap.
func WithAssessmentHook(fn func(*Assessment)) Option {
	return func(e *Engine) { e.onAssessment = fn }
}

// NewEngine creates a scoring engine backed by the given history source and
// audit store. audit may be nil (scoring still works, decisions are not
// persisted).
func NewEngine(history History, audit AuditStore, opts ...Option) *Engine {
	e := &Engine{
		history:      history,
		audit:        audit,
		logger:       slog.Default(),
		fallbackAvg:  DefaultFallbackAverage,
		knownDevices: make(map[string]struct{}),
	}
	e.profiles = newProfileStore(history, DefaultProfileTTL, DefaultFallbackAverage, e.logger)
	for _, opt := range opts {
		opt(e)
	}
	e.profiles.logger = e.logger
	return e
}

// Score evaluates a transaction and returns its fraud score.
//
// All five analyzers run unconditionally in fixed order, with no early
// exit, so factors and recommendations reflect the full evidence set. A
// failed history query degrades only that factor; the call still succeeds.
// The only hard errors are ErrInvalidTransaction and a context
// cancellation/deadline, which never yields a partial result.
func (e *Engine) Score(ctx context.Context, ev *TransactionEvent) (*FraudScore, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "fraud.Score", traces.UserID(ev.UserID))
	defer span.End()

	start := time.Now()

	profile, err := e.profiles.get(ctx, ev.UserID)
	if err != nil {
		// Only context errors escape the profile store.
		return nil, err
	}

	analyzers := []struct {
		typ FactorType
		fn  analyzer
	}{
		{FactorVelocity, e.analyzeVelocity},
		{FactorAmount, e.analyzeAmount},
		{FactorGeographic, e.analyzeGeographic},
		{FactorDevice, e.analyzeDevice},
		{FactorBehavioral, e.analyzeBehavioral},
	}

	factors := make([]FraudFactor, 0, len(analyzers))
	for _, a := range analyzers {
		if err := ctx.Err(); err != nil {
			// Deadline expired mid-analysis: fail cleanly, never return
			// a partial evidence set the caller might mistake for low risk.
			return nil, err
		}

		factor, err := a.fn(ctx, ev, profile)
		if err != nil {
			metrics.DegradedFactorsTotal.WithLabelValues(string(a.typ)).Inc()
			e.logger.Warn("factor analysis degraded",
				"factor", a.typ, "user_id", ev.UserID, "error", err)
			factor = FraudFactor{
				Type:        a.typ,
				Score:       0,
				Severity:    SeverityLow,
				Description: unavailableDescription,
				Unavailable: true,
			}
		}
		metrics.FactorSeverityTotal.WithLabelValues(string(a.typ), string(factor.Severity)).Inc()
		factors = append(factors, factor)
	}

	total := factors[0].Score*WeightVelocity +
		factors[1].Score*WeightAmount +
		factors[2].Score*WeightGeographic +
		factors[3].Score*WeightDevice +
		factors[4].Score*WeightBehavioral

	total = math.Min(100, math.Max(0, total))

	result := &FraudScore{
		Score:           math.Round(total*100) / 100,
		RiskLevel:       RiskLevelFor(total),
		Factors:         factors,
		Recommendations: recommendations(factors),
	}
	span.SetAttributes(traces.RiskLevel(string(result.RiskLevel)))
	metrics.ScoresTotal.WithLabelValues(string(result.RiskLevel)).Inc()
	metrics.ScoreDuration.Observe(time.Since(start).Seconds())

	assessment := &Assessment{
		ID:          idgen.WithPrefix("asmt_"),
		UserID:      ev.UserID,
		Event:       ev,
		Score:       result.Score,
		RiskLevel:   result.RiskLevel,
		Factors:     factors,
		EvaluatedAt: time.Now(),
	}

	// Audit is best-effort and must not delay or fail the scoring call.
	if e.audit != nil {
		go e.recordAudit(assessment)
	}
	if e.onAssessment != nil {
		e.onAssessment(assessment)
	}

	return result, nil
}

// Profile returns the user's current behavior profile, computing it if
// needed. Exposed for the API and MCP surfaces.
func (e *Engine) Profile(ctx context.Context, userID string) (*UserBehaviorProfile, error) {
	return e.profiles.get(ctx, userID)
}

// InvalidateProfile drops the cached profile so the next score recomputes.
func (e *Engine) InvalidateProfile(userID string) {
	e.profiles.invalidate(userID)
}

// RiskLevelFor maps an aggregate score to its discrete risk level.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score >= ThresholdCritical:
		return RiskCritical
	case score >= ThresholdHigh:
		return RiskHigh
	case score >= ThresholdMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// recordAudit persists the assessment with bounded retries. Failure is
// logged and counted, never propagated.
func (e *Engine) recordAudit(a *Assessment) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	err := retry.Do(ctx, auditWriteAttempts, auditRetryBase, func() error {
		return e.audit.Record(ctx, a)
	})
	if err != nil {
		metrics.AuditWriteFailures.Inc()
		e.logger.Error("audit write failed",
			"assessment_id", a.ID, "user_id", a.UserID, "error", err)
	}
}

// recommendation mapping, keyed on factor type and whether it fired at high
// severity. Kept as a table so the remediation catalogue is auditable.
var recommendationTable = map[FactorType]struct {
	high   []string
	always []string
}{
	FactorVelocity: {
		high: []string{
			"enable rate limiting for this user",
			"review recent transaction patterns",
		},
	},
	FactorAmount: {
		high: []string{
			"verify user identity before processing large transactions",
			"require additional approval for high-value transactions",
		},
	},
	FactorGeographic: {
		high: []string{
			"block transaction and require identity verification",
			"notify user of suspicious activity",
		},
	},
	FactorDevice: {
		always: []string{"challenge unrecognized devices with step-up authentication"},
	},
	FactorBehavioral: {
		always: []string{"monitor user behavior for additional anomalies"},
	},
}

// recommendations derives the deduplicated remediation list from which
// factors fired and at what severity. Device and behavioral guidance only
// applies when those factors actually flagged something (medium or above).
func recommendations(factors []FraudFactor) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(recs []string) {
		for _, r := range recs {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}

	for _, f := range factors {
		if f.Unavailable {
			continue
		}
		entry, ok := recommendationTable[f.Type]
		if !ok {
			continue
		}
		if f.Severity == SeverityHigh {
			add(entry.high)
		}
		if f.Severity != SeverityLow {
			add(entry.always)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
