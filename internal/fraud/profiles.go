package fraud

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mnnr/fraudguard/internal/metrics"
)

const (
	// DefaultProfileTTL matches the hourly granularity used in velocity
	// analysis. A stale profile is fully replaced, never patched.
	DefaultProfileTTL = time.Hour

	// DefaultFallbackAverage seeds the average amount for users with no
	// history so first-time transactions are not maximally anomalous and
	// amount deviation never divides by zero.
	DefaultFallbackAverage = 100.0

	profileWindowDays  = 30
	maxCommonMerchants = 10
)

// profileStore caches one UserBehaviorProfile per user with TTL-based
// staleness. Recomputation is single-flighted: N concurrent callers for the
// same stale key trigger exactly one history query.
type profileStore struct {
	history     History
	ttl         time.Duration
	fallbackAvg float64
	logger      *slog.Logger

	mu       sync.RWMutex
	profiles map[string]*UserBehaviorProfile
	group    singleflight.Group
}

func newProfileStore(history History, ttl time.Duration, fallbackAvg float64, logger *slog.Logger) *profileStore {
	return &profileStore{
		history:     history,
		ttl:         ttl,
		fallbackAvg: fallbackAvg,
		logger:      logger,
		profiles:    make(map[string]*UserBehaviorProfile),
	}
}

// get returns the user's behavior profile, recomputing when missing or
// stale. It never returns an error: a failed history query degrades to a
// safe-default profile. The returned profile is a copy; cached entries are
// never handed out mutable.
func (s *profileStore) get(ctx context.Context, userID string) (*UserBehaviorProfile, error) {
	s.mu.RLock()
	cached, ok := s.profiles[userID]
	s.mu.RUnlock()

	if ok && time.Since(cached.LastUpdate) < s.ttl {
		metrics.ProfileCacheHits.Inc()
		return copyProfile(cached), nil
	}
	metrics.ProfileCacheMisses.Inc()

	// DoChan rather than Do so a caller-supplied deadline can abandon the
	// wait without cancelling the shared computation for everyone else.
	ch := s.group.DoChan(userID, func() (any, error) {
		return s.compute(context.WithoutCancel(ctx), userID), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return copyProfile(res.Val.(*UserBehaviorProfile)), nil
	}
}

// compute builds a fresh profile from the trailing 30-day history and
// replaces the cache entry wholesale.
func (s *profileStore) compute(ctx context.Context, userID string) *UserBehaviorProfile {
	since := time.Now().Add(-profileWindowDays * 24 * time.Hour)

	timer := time.Now()
	records, err := s.history.ListSince(ctx, userID, since)
	metrics.HistoryQueryDuration.WithLabelValues("list_window").Observe(time.Since(timer).Seconds())

	if err != nil {
		// Degrade to safe defaults rather than failing the scoring call.
		// The stale cache entry (if any) is left alone so a transient
		// outage does not evict known-good data.
		metrics.ProfileFallbacksTotal.Inc()
		s.logger.Warn("profile history query failed, using safe defaults",
			"user_id", userID, "error", err)
		return s.defaultProfile(userID)
	}

	profile := s.build(userID, records)

	s.mu.Lock()
	s.profiles[userID] = profile
	s.mu.Unlock()

	return profile
}

// build derives the statistical summary from raw history records.
func (s *profileStore) build(userID string, records []HistoryRecord) *UserBehaviorProfile {
	avg := s.fallbackAvg
	if len(records) > 0 {
		var sum float64
		for _, r := range records {
			sum += r.Amount
		}
		avg = sum / float64(len(records))
	}

	profile := &UserBehaviorProfile{
		UserID:                   userID,
		AverageTransactionAmount: avg,
		CommonMerchants:          topMerchants(records, maxCommonMerchants),
		CommonLocations:          distinctCountries(records),
		TransactionVelocity:      float64(len(records)) / (profileWindowDays * 24),
		SpendingPattern:          spendingPattern(avg),
		LastUpdate:               time.Now(),
	}
	return profile
}

// defaultProfile is the safe profile for unknown users or failed lookups.
// It is not cached: the next call retries the history query.
func (s *profileStore) defaultProfile(userID string) *UserBehaviorProfile {
	return &UserBehaviorProfile{
		UserID:                   userID,
		AverageTransactionAmount: s.fallbackAvg,
		CommonMerchants:          []string{},
		CommonLocations:          []string{},
		TransactionVelocity:      0,
		SpendingPattern:          spendingPattern(s.fallbackAvg),
		LastUpdate:               time.Now(),
	}
}

// invalidate drops the cached profile for a user. Used after ingesting new
// transactions so the next score sees fresh statistics sooner than the TTL.
func (s *profileStore) invalidate(userID string) {
	s.mu.Lock()
	delete(s.profiles, userID)
	s.mu.Unlock()
}

// spendingPattern tiers average spend for downstream reporting only.
func spendingPattern(avg float64) SpendingPattern {
	switch {
	case avg > 500:
		return SpendingAggressive
	case avg > 100:
		return SpendingModerate
	default:
		return SpendingConservative
	}
}

// topMerchants returns the n most frequent merchants in the window,
// most frequent first. Ties break alphabetically for determinism.
func topMerchants(records []HistoryRecord, n int) []string {
	counts := make(map[string]int)
	for _, r := range records {
		if r.Merchant != "" {
			counts[r.Merchant]++
		}
	}

	merchants := make([]string, 0, len(counts))
	for m := range counts {
		merchants = append(merchants, m)
	}
	sort.Slice(merchants, func(i, j int) bool {
		if counts[merchants[i]] != counts[merchants[j]] {
			return counts[merchants[i]] > counts[merchants[j]]
		}
		return merchants[i] < merchants[j]
	})

	if len(merchants) > n {
		merchants = merchants[:n]
	}
	return merchants
}

// distinctCountries returns the set of country codes seen in the window.
func distinctCountries(records []HistoryRecord) []string {
	seen := make(map[string]bool)
	var countries []string
	for _, r := range records {
		if r.Country != "" && !seen[r.Country] {
			seen[r.Country] = true
			countries = append(countries, r.Country)
		}
	}
	sort.Strings(countries)
	if countries == nil {
		countries = []string{}
	}
	return countries
}

// copyProfile returns an independent copy so callers can never mutate a
// cached entry through the returned pointer.
func copyProfile(p *UserBehaviorProfile) *UserBehaviorProfile {
	cp := *p
	cp.CommonMerchants = append([]string(nil), p.CommonMerchants...)
	cp.CommonLocations = append([]string(nil), p.CommonLocations...)
	return &cp
}
