package fraud

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryHistory is an in-memory History implementation for demo/test use.
type MemoryHistory struct {
	mu      sync.RWMutex
	records map[string][]HistoryRecord // userID → records, append order
}

// NewMemoryHistory creates an in-memory transaction history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[string][]HistoryRecord)}
}

// Append adds a committed transaction for a user.
func (h *MemoryHistory) Append(ctx context.Context, userID string, rec HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[userID] = append(h.records[userID], rec)
	return nil
}

func (h *MemoryHistory) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, r := range h.records[userID] {
		if !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (h *MemoryHistory) ListSince(ctx context.Context, userID string, since time.Time) ([]HistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []HistoryRecord
	for _, r := range h.records[userID] {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *MemoryHistory) LastTransaction(ctx context.Context, userID string) (*HistoryRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := h.records[userID]
	if len(records) == 0 {
		return nil, nil
	}

	latest := records[0]
	for _, r := range records[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return &latest, nil
}

// MemoryAuditStore is an in-memory AuditStore implementation for demo/test use.
type MemoryAuditStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // userID → assessments
}

// NewMemoryAuditStore creates an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{assessments: make(map[string][]*Assessment)}
}

func (s *MemoryAuditStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.Factors = append([]FraudFactor(nil), a.Factors...)
	s.assessments[a.UserID] = append(s.assessments[a.UserID], &cp)
	return nil
}

func (s *MemoryAuditStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[userID]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit.
	sorted := append([]*Assessment(nil), all...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EvaluatedAt.After(sorted[j].EvaluatedAt)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]*Assessment, 0, len(sorted))
	for _, a := range sorted {
		cp := *a
		cp.Factors = append([]FraudFactor(nil), a.Factors...)
		out = append(out, &cp)
	}
	return out, nil
}
