// Package webhook receives signed payment events from Stripe and hands
// succeeded payment intents to the reconciliation engine.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"billing-service/internal/money"
	"billing-service/internal/reconcile"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	SignatureHeader = "Stripe-Signature"
	SourceStripe    = "stripe"

	EventPaymentIntentSucceeded = "payment_intent.succeeded"

	maxBodyBytes   = int64(65536)
	requestTimeout = 15 * time.Second
)

type Reconciler interface {
	ReconcileOnce(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error)
}

type Notifier interface {
	Reconciled(ctx context.Context, out reconcile.Outcome, source string) error
}

// BalanceInvalidator is told which membership received a balance credit
// once the credit has committed.
type BalanceInvalidator interface {
	Invalidate(membershipID uint)
}

type Handler struct {
	engine    Reconciler
	notifier  Notifier
	balances  BalanceInvalidator
	secret    string
	tolerance time.Duration
	log       *logrus.Logger
}

func NewHandler(engine Reconciler, notifier Notifier, balances BalanceInvalidator, secret string, tolerance time.Duration, log *logrus.Logger) *Handler {
	return &Handler{
		engine:    engine,
		notifier:  notifier,
		balances:  balances,
		secret:    secret,
		tolerance: tolerance,
		log:       log,
	}
}

type response struct {
	Received  bool   `json:"received"`
	Ignored   bool   `json:"ignored,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "unreadable body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get(SignatureHeader), h.secret, webhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.log.WithError(err).Warn("rejecting webhook with invalid signature")
		writeJSON(w, http.StatusBadRequest, response{Error: "invalid signature"})
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if string(event.Type) != EventPaymentIntentSucceeded {
		log.Debug("ignoring webhook event type")
		writeJSON(w, http.StatusOK, response{Received: true, Ignored: true})
		return
	}

	if event.Data == nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "missing event data"})
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		log.WithError(err).Warn("failed to decode payment intent")
		writeJSON(w, http.StatusBadRequest, response{Error: "invalid payment intent"})
		return
	}

	ev, err := EventFromIntent(&intent)
	if err != nil {
		log.WithError(err).WithField("payment_intent", intent.ID).Warn("rejecting payment intent metadata")
		writeJSON(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	out, err := h.engine.ReconcileOnce(ctx, ev)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, reconcile.ErrInvalidEvent) {
			status = http.StatusBadRequest
		}
		log.WithError(err).WithField("status", status).Error("payment reconciliation failed")
		writeJSON(w, status, response{Error: "reconciliation failed"})
		return
	}

	if !out.Duplicate {
		if out.BalanceCredit > 0 && h.balances != nil {
			h.balances.Invalidate(out.MembershipID)
		}
		if err := h.notifier.Reconciled(ctx, out, SourceStripe); err != nil {
			log.WithError(err).Warn("failed to publish reconciliation notice")
		}
	}

	writeJSON(w, http.StatusOK, response{Received: true, Duplicate: out.Duplicate})
}

// EventFromIntent maps a succeeded payment intent onto an engine event.
func EventFromIntent(pi *stripe.PaymentIntent) (reconcile.Event, error) {
	md, err := DecodeMetadata(pi.Metadata)
	if err != nil {
		return reconcile.Event{}, err
	}

	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	if pi.ID == "" {
		return reconcile.Event{}, fmt.Errorf("%w: payment intent without id", reconcile.ErrInvalidEvent)
	}

	return reconcile.Event{
		TotalAmount:      amount,
		Currency:         money.NormalizeCurrency(string(pi.Currency)),
		Targets:          md.ParticipationIDs,
		MembershipID:     md.MembershipID,
		GatewayReference: pi.ID,
		EventType:        EventPaymentIntentSucceeded,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
