package fraud_test

import (
	"context"
	"testing"
	"time"

	"github.com/mnnr/fraudguard/internal/fraud"
	"github.com/mnnr/fraudguard/internal/testutil"
)

func TestPostgresHistoryRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	h := fraud.NewPostgresHistory(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	last, err := h.LastTransaction(ctx, "pg_user")
	if err != nil || last != nil {
		t.Fatalf("empty history: got (%v, %v), want (nil, nil)", last, err)
	}

	recs := []fraud.HistoryRecord{
		{Amount: 49.99, Merchant: "Grocer", Country: "US", CreatedAt: now.Add(-2 * time.Hour)},
		{Amount: 12.50, Merchant: "Cafe", Country: "US", CreatedAt: now.Add(-20 * time.Minute)},
	}
	for _, r := range recs {
		if err := h.Append(ctx, "pg_user", r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	count, err := h.CountSince(ctx, "pg_user", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	listed, err := h.ListSince(ctx, "pg_user", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d records, want 2", len(listed))
	}
	if listed[0].Merchant != "Grocer" {
		t.Errorf("oldest first: got %s", listed[0].Merchant)
	}

	last, err = h.LastTransaction(ctx, "pg_user")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last == nil || last.Merchant != "Cafe" {
		t.Errorf("last = %+v, want the Cafe record", last)
	}
}

func TestPostgresAuditStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s := fraud.NewPostgresAuditStore(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := &fraud.Assessment{
		ID:     "asmt_pg_test",
		UserID: "pg_user",
		Event: &fraud.TransactionEvent{
			UserID: "pg_user", Amount: 250, Merchant: "Electronics",
			Location: fraud.Location{Country: "DE"},
		},
		Score:     42.5,
		RiskLevel: fraud.RiskMedium,
		Factors: []fraud.FraudFactor{
			{Type: fraud.FactorAmount, Score: 65, Severity: fraud.SeverityMedium, Description: "unusual amount"},
		},
		EvaluatedAt: now,
	}
	if err := s.Record(ctx, a); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.ListByUser(ctx, "pg_user", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d assessments, want 1", len(got))
	}

	stored := got[0]
	if stored.ID != a.ID || stored.Score != a.Score || stored.RiskLevel != a.RiskLevel {
		t.Errorf("stored = %+v, want %+v", stored, a)
	}
	if len(stored.Factors) != 1 || stored.Factors[0].Type != fraud.FactorAmount {
		t.Errorf("factors = %+v", stored.Factors)
	}
	if stored.Event == nil || stored.Event.Merchant != "Electronics" {
		t.Errorf("event = %+v", stored.Event)
	}
}
