package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"billing-service/internal/model"
	"billing-service/internal/money"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type ledgerEntry struct {
	ID               uint   `json:"id"`
	OwnerID          uint   `json:"owner_id"`
	Amount           int64  `json:"amount"`
	Display          string `json:"display"`
	Currency         string `json:"currency"`
	GatewayReference string `json:"gateway_reference"`
	CreatedAt        string `json:"created_at"`
}

func paymentEntries(payments []model.Payment) []ledgerEntry {
	out := make([]ledgerEntry, 0, len(payments))
	for _, p := range payments {
		out = append(out, ledgerEntry{
			ID:               p.ID,
			OwnerID:          p.ParticipationID,
			Amount:           p.Amount,
			Display:          money.Format(p.Amount, p.Currency),
			Currency:         p.Currency,
			GatewayReference: p.GatewayReference,
			CreatedAt:        p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}

func balanceEntries(balances []model.MembershipBalance) []ledgerEntry {
	out := make([]ledgerEntry, 0, len(balances))
	for _, b := range balances {
		out = append(out, ledgerEntry{
			ID:               b.ID,
			OwnerID:          b.MembershipID,
			Amount:           b.Amount,
			Display:          money.Format(b.Amount, b.Currency),
			Currency:         b.Currency,
			GatewayReference: b.GatewayReference,
			CreatedAt:        b.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleParticipationPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	payments, err := a.ledger.PaymentsByParticipation(r.Context(), id)
	if err != nil {
		a.requestLog(r).WithError(err).WithField("participation_id", id).Error("failed to list payments")
		http.Error(w, "failed to list payments", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, paymentEntries(payments))
}

func (a *API) handleMembershipPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	payments, err := a.ledger.PaymentsByMembership(r.Context(), id)
	if err != nil {
		a.requestLog(r).WithError(err).WithField("membership_id", id).Error("failed to list payments")
		http.Error(w, "failed to list payments", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, paymentEntries(payments))
}

func (a *API) handleMembershipBalances(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	balances, err := a.ledger.BalancesByMembership(r.Context(), id)
	if err != nil {
		a.requestLog(r).WithError(err).WithField("membership_id", id).Error("failed to list balances")
		http.Error(w, "failed to list balances", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balanceEntries(balances))
}

func (a *API) handleMembershipBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	totals, found := a.balances.Get(id)
	if !found {
		rows, err := a.ledger.MembershipBalanceTotals(r.Context(), id)
		if err != nil {
			a.requestLog(r).WithError(err).WithField("membership_id", id).Error("failed to load balance totals")
			http.Error(w, "failed to load balance", http.StatusInternalServerError)
			return
		}
		totals = make(map[string]int64, len(rows))
		for _, row := range rows {
			totals[row.Currency] = row.Amount
		}
	}

	display := make(map[string]string, len(totals))
	for currency, amount := range totals {
		display[currency] = money.Format(amount, currency)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"membership_id": id,
		"totals":        totals,
		"display":       display,
	})
}

func (a *API) handleGatewayReference(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider, reference := vars["provider"], vars["reference"]

	a.requestLog(r).WithFields(logrus.Fields{
		"provider":  provider,
		"reference": reference,
	}).Debug("gateway reference lookup")

	processed, err := a.events.EventExists(r.Context(), provider, reference)
	if err != nil {
		a.requestLog(r).WithError(err).WithField("reference", reference).Error("failed to look up gateway reference")
		http.Error(w, "failed to look up reference", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":  provider,
		"reference": reference,
		"processed": processed,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 0)
	if err != nil || id == 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
