package fraud

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mnnr/fraudguard/internal/metrics"
)

// Factor score constants. Hand-tuned heuristics carried over from the
// production rule set; treat as configuration, not load-bearing logic.
const (
	velocityHighScore   = 85
	velocityMediumScore = 60
	velocityLowScore    = 10

	amountHighScore   = 90
	amountMediumScore = 65
	amountLowScore    = 15

	geoImpossibleScore  = 95
	geoNewLocationScore = 50
	geoLowScore         = 5

	deviceNewScore   = 40
	deviceKnownScore = 5

	behavioralNewScore   = 35
	behavioralKnownScore = 5

	// impossibleTravelWindow is the minimum plausible gap between
	// transactions from two different countries.
	impossibleTravelWindow = 2 * time.Hour

	// amountHighDeviation and amountMediumDeviation are relative
	// deviations from the user's average (2.0 = 200%).
	amountHighDeviation   = 2.0
	amountMediumDeviation = 1.0
)

// analyzer is a pure function of (event, profile, history). Analyzers never
// mutate the profile; the device analyzer's fingerprint set lives on the
// engine, not the profile.
type analyzer func(ctx context.Context, ev *TransactionEvent, profile *UserBehaviorProfile) (FraudFactor, error)

// analyzeVelocity flags unusual transaction frequency in the trailing hour.
// For new users with zero expected velocity the multiplier thresholds
// degenerate to zero, so absolute counts of 3 and 2 are used instead;
// otherwise the very first transaction would always fire.
func (e *Engine) analyzeVelocity(ctx context.Context, ev *TransactionEvent, profile *UserBehaviorProfile) (FraudFactor, error) {
	since := time.Now().Add(-time.Hour)

	timer := time.Now()
	count, err := e.history.CountSince(ctx, ev.UserID, since)
	metrics.HistoryQueryDuration.WithLabelValues("count_recent").Observe(time.Since(timer).Seconds())
	if err != nil {
		return FraudFactor{}, fmt.Errorf("count recent transactions: %w", err)
	}

	expected := profile.TransactionVelocity
	highAt, mediumAt := expected*3, expected*2
	if expected == 0 {
		highAt, mediumAt = 3, 2
	}

	switch {
	case float64(count) > highAt:
		return FraudFactor{
			Type:     FactorVelocity,
			Score:    velocityHighScore,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("unusual velocity: %d transactions in 1 hour (expected <= %d)",
				count, int(math.Ceil(expected))),
		}, nil
	case float64(count) > mediumAt:
		return FraudFactor{
			Type:        FactorVelocity,
			Score:       velocityMediumScore,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("elevated velocity: %d transactions in 1 hour", count),
		}, nil
	default:
		return FraudFactor{
			Type:        FactorVelocity,
			Score:       velocityLowScore,
			Severity:    SeverityLow,
			Description: "normal transaction velocity",
		}, nil
	}
}

// analyzeAmount flags amounts that deviate sharply from the user's average.
func (e *Engine) analyzeAmount(_ context.Context, ev *TransactionEvent, profile *UserBehaviorProfile) (FraudFactor, error) {
	avg := profile.AverageTransactionAmount
	if avg <= 0 {
		// Profiles always carry the fallback average; this guards a
		// hand-constructed profile.
		avg = e.fallbackAvg
	}
	deviation := math.Abs(ev.Amount-avg) / avg

	switch {
	case deviation > amountHighDeviation:
		return FraudFactor{
			Type:     FactorAmount,
			Score:    amountHighScore,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("amount anomaly: %.2f vs average %.2f (%.0f%% deviation)",
				ev.Amount, avg, deviation*100),
		}, nil
	case deviation > amountMediumDeviation:
		return FraudFactor{
			Type:     FactorAmount,
			Score:    amountMediumScore,
			Severity: SeverityMedium,
			Description: fmt.Sprintf("unusual amount: %.2f vs average %.2f",
				ev.Amount, avg),
		}, nil
	default:
		return FraudFactor{
			Type:        FactorAmount,
			Score:       amountLowScore,
			Severity:    SeverityLow,
			Description: "amount within normal range",
		}, nil
	}
}

// analyzeGeographic flags transactions from countries outside the user's
// common set. A new country within impossibleTravelWindow of the previous
// transaction is classified as impossible travel, a stronger signal than an
// ordinary new location. The event's own timestamp is compared against the
// committed previous transaction; wall clock is not involved here.
func (e *Engine) analyzeGeographic(ctx context.Context, ev *TransactionEvent, profile *UserBehaviorProfile) (FraudFactor, error) {
	country := ev.Location.Country
	if country == "" {
		country = "unknown"
	}

	for _, c := range profile.CommonLocations {
		if c == country {
			return FraudFactor{
				Type:        FactorGeographic,
				Score:       geoLowScore,
				Severity:    SeverityLow,
				Description: "location within normal range",
			}, nil
		}
	}

	timer := time.Now()
	last, err := e.history.LastTransaction(ctx, ev.UserID)
	metrics.HistoryQueryDuration.WithLabelValues("last_transaction").Observe(time.Since(timer).Seconds())
	if err != nil {
		return FraudFactor{}, fmt.Errorf("fetch previous transaction: %w", err)
	}

	if last != nil {
		delta := time.UnixMilli(ev.Timestamp).Sub(last.CreatedAt)
		if delta < impossibleTravelWindow {
			return FraudFactor{
				Type:     FactorGeographic,
				Score:    geoImpossibleScore,
				Severity: SeverityHigh,
				Description: fmt.Sprintf("impossible travel: country changed to %s within %s of previous transaction",
					country, delta.Round(time.Minute)),
			}, nil
		}
	}

	return FraudFactor{
		Type:        FactorGeographic,
		Score:       geoNewLocationScore,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("new location: %s", country),
	}, nil
}

// analyzeDevice checks the fingerprint against the deployment-wide known
// set. First sight registers the fingerprint as a side effect; the check
// and the add are a single critical section so two concurrent first
// sightings of one fingerprint report "new" exactly once.
func (e *Engine) analyzeDevice(_ context.Context, ev *TransactionEvent, _ *UserBehaviorProfile) (FraudFactor, error) {
	e.devicesMu.Lock()
	_, known := e.knownDevices[ev.Device.Fingerprint]
	if !known {
		e.knownDevices[ev.Device.Fingerprint] = struct{}{}
	}
	e.devicesMu.Unlock()

	if !known {
		return FraudFactor{
			Type:        FactorDevice,
			Score:       deviceNewScore,
			Severity:    SeverityMedium,
			Description: "new device fingerprint",
		}, nil
	}
	return FraudFactor{
		Type:        FactorDevice,
		Score:       deviceKnownScore,
		Severity:    SeverityLow,
		Description: "recognized device",
	}, nil
}

// analyzeBehavioral flags merchants outside the user's common set.
func (e *Engine) analyzeBehavioral(_ context.Context, ev *TransactionEvent, profile *UserBehaviorProfile) (FraudFactor, error) {
	for _, m := range profile.CommonMerchants {
		if m == ev.Merchant {
			return FraudFactor{
				Type:        FactorBehavioral,
				Score:       behavioralKnownScore,
				Severity:    SeverityLow,
				Description: "behavioral pattern normal",
			}, nil
		}
	}
	return FraudFactor{
		Type:        FactorBehavioral,
		Score:       behavioralNewScore,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("new merchant: %s", ev.Merchant),
	}, nil
}
