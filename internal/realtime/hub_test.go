package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mnnr/fraudguard/internal/fraud"
)

func testAssessment(id, userID string, score float64, level fraud.RiskLevel) *fraud.Assessment {
	return &fraud.Assessment{
		ID:          id,
		UserID:      userID,
		Score:       score,
		RiskLevel:   level,
		EvaluatedAt: time.Now(),
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

func addClient(t *testing.T, hub *Hub, sub Subscription) *Client {
	t.Helper()
	client := &Client{hub: hub, send: make(chan []byte, 8), sub: sub}
	select {
	case hub.register <- client:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept registration")
	}
	return client
}

func recvAlert(t *testing.T, client *Client) *Alert {
	t.Helper()
	select {
	case payload := <-client.send:
		var alert Alert
		if err := json.Unmarshal(payload, &alert); err != nil {
			t.Fatalf("unmarshal alert: %v", err)
		}
		return &alert
	case <-time.After(time.Second):
		t.Fatal("no alert received")
		return nil
	}
}

func TestBroadcastDelivery(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	client := addClient(t, hub, Subscription{})

	hub.BroadcastAssessment(testAssessment("asmt_1", "user1", 75, fraud.RiskHigh))

	alert := recvAlert(t, client)
	if alert.AssessmentID != "asmt_1" || alert.UserID != "user1" || alert.RiskLevel != fraud.RiskHigh {
		t.Errorf("alert = %+v", alert)
	}
}

func TestSubscriptionMinRiskLevel(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	client := addClient(t, hub, Subscription{MinRiskLevel: fraud.RiskHigh})

	hub.BroadcastAssessment(testAssessment("asmt_low", "user1", 10, fraud.RiskLow))
	hub.BroadcastAssessment(testAssessment("asmt_high", "user1", 85, fraud.RiskCritical))

	alert := recvAlert(t, client)
	if alert.AssessmentID != "asmt_high" {
		t.Errorf("filtered alert leaked: %+v", alert)
	}
}

func TestSubscriptionUserFilter(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	client := addClient(t, hub, Subscription{UserIDs: []string{"watched"}})

	hub.BroadcastAssessment(testAssessment("asmt_other", "someone-else", 90, fraud.RiskCritical))
	hub.BroadcastAssessment(testAssessment("asmt_watched", "watched", 20, fraud.RiskLow))

	alert := recvAlert(t, client)
	if alert.UserID != "watched" {
		t.Errorf("user filter leaked: %+v", alert)
	}
}

func TestSlowClientEvicted(t *testing.T) {
	hub, cancel := startHub(t)
	defer cancel()

	slow := &Client{hub: hub, send: make(chan []byte)} // unbuffered, never read
	select {
	case hub.register <- slow:
	case <-time.After(time.Second):
		t.Fatal("registration timeout")
	}

	hub.BroadcastAssessment(testAssessment("asmt_1", "user1", 75, fraud.RiskHigh))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if hub.Stats()["connectedClients"].(int) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("slow client never evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub, cancel := startHub(t)

	client := addClient(t, hub, Subscription{})
	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed channel, got message")
		}
	case <-time.After(time.Second):
		t.Fatal("client channel not closed on shutdown")
	}
}
