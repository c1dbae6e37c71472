// Package ingest turns payment-provider webhook events into scored
// transactions. Stripe is the only provider wired today: charge events are
// verified, mapped to TransactionEvents, scored, and committed to history.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mnnr/fraudguard/internal/fraud"
	"github.com/mnnr/fraudguard/internal/metrics"
)

const maxBodyBytes = 64 * 1024

// StripeHandler verifies and scores incoming Stripe webhook events.
type StripeHandler struct {
	engine        *fraud.Engine
	history       fraud.HistoryWriter
	signingSecret string
	scoreTimeout  time.Duration
	logger        *slog.Logger
}

// NewStripeHandler creates a webhook handler. signingSecret may be empty in
// development, in which case signature verification is skipped (and logged).
func NewStripeHandler(engine *fraud.Engine, history fraud.HistoryWriter, signingSecret string, scoreTimeout time.Duration, logger *slog.Logger) *StripeHandler {
	return &StripeHandler{
		engine:        engine,
		history:       history,
		signingSecret: signingSecret,
		scoreTimeout:  scoreTimeout,
		logger:        logger,
	}
}

// Handle is the gin handler for POST /webhooks/stripe.
func (h *StripeHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := h.parseEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		metrics.IngestEventsTotal.WithLabelValues("rejected").Inc()
		h.logger.Warn("stripe webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	switch event.Type {
	case "charge.succeeded":
	default:
		// Acknowledge everything else so Stripe stops retrying.
		metrics.IngestEventsTotal.WithLabelValues("ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed charge payload"})
		return
	}

	tx := chargeToEvent(&charge)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.scoreTimeout)
	defer cancel()

	score, err := h.engine.Score(ctx, tx)
	if err != nil {
		if errors.Is(err, fraud.ErrInvalidTransaction) {
			metrics.IngestEventsTotal.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		metrics.IngestEventsTotal.WithLabelValues("failed").Inc()
		h.logger.Error("scoring ingested charge failed", "charge", charge.ID, "error", err)
		// 500 so Stripe redelivers; scoring may succeed on retry.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring failed"})
		return
	}

	// Commit the transaction to history after scoring so the charge itself
	// does not inflate its own velocity window.
	if h.history != nil {
		rec := fraud.HistoryRecord{
			Amount:    tx.Amount,
			Merchant:  tx.Merchant,
			Country:   tx.Location.Country,
			CreatedAt: time.UnixMilli(tx.Timestamp),
		}
		if err := h.history.Append(ctx, tx.UserID, rec); err != nil {
			h.logger.Error("history append failed", "charge", charge.ID, "error", err)
		} else {
			h.engine.InvalidateProfile(tx.UserID)
		}
	}

	metrics.IngestEventsTotal.WithLabelValues("scored").Inc()
	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"score":     score.Score,
		"riskLevel": score.RiskLevel,
	})
}

// parseEvent verifies the webhook signature when a secret is configured.
func (h *StripeHandler) parseEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if h.signingSecret != "" {
		return webhook.ConstructEvent(payload, sigHeader, h.signingSecret)
	}

	h.logger.Warn("stripe webhook signature verification disabled (no STRIPE_WEBHOOK_SECRET)")
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, err
	}
	return event, nil
}

// chargeToEvent maps a Stripe charge onto the engine's input shape.
func chargeToEvent(charge *stripe.Charge) *fraud.TransactionEvent {
	userID := ""
	if charge.Customer != nil {
		userID = charge.Customer.ID
	}
	if v, ok := charge.Metadata["user_id"]; ok && v != "" {
		userID = v
	}

	merchant := charge.Description
	if merchant == "" {
		merchant = charge.CalculatedStatementDescriptor
	}

	var location fraud.Location
	if charge.BillingDetails != nil && charge.BillingDetails.Address != nil {
		location.Country = charge.BillingDetails.Address.Country
		location.City = charge.BillingDetails.Address.City
	}

	var device fraud.Device
	if charge.PaymentMethodDetails != nil && charge.PaymentMethodDetails.Card != nil {
		device.Fingerprint = charge.PaymentMethodDetails.Card.Fingerprint
	}
	device.UserAgent = "stripe-webhook"

	timestamp := charge.Created * 1000 // Stripe sends epoch seconds
	if timestamp <= 0 {
		timestamp = time.Now().UnixMilli()
	}

	return &fraud.TransactionEvent{
		UserID:    userID,
		Amount:    float64(charge.Amount) / 100, // cents to currency units
		Merchant:  merchant,
		Location:  location,
		Device:    device,
		Timestamp: timestamp,
		Metadata:  charge.Metadata,
	}
}
