// Package reconcile allocates a confirmed gateway payment across outstanding
// meeting participations and credits the remainder to the membership balance.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"billing-service/internal/money"

	"github.com/sirupsen/logrus"
)

// DefaultEventType is recorded for claims of events that carry no type.
const DefaultEventType = "payment"

// Event is a confirmed payment to be distributed. Targets are paid in order.
// EventType names the inbound event the payment arrived with.
type Event struct {
	TotalAmount      int64
	Currency         string
	Targets          []uint
	MembershipID     uint
	GatewayReference string
	EventType        string
}

// Validate checks the event shape.
func (e Event) Validate() error {
	switch {
	case len(e.Targets) == 0:
		return fmt.Errorf("%w: no target participations", ErrInvalidEvent)
	case e.TotalAmount <= 0:
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidEvent, e.TotalAmount)
	case money.NormalizeCurrency(e.Currency) == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidEvent)
	case e.MembershipID == 0:
		return fmt.Errorf("%w: membership is required", ErrInvalidEvent)
	case e.GatewayReference == "":
		return fmt.Errorf("%w: gateway reference is required", ErrInvalidEvent)
	}
	for _, id := range e.Targets {
		if id == 0 {
			return fmt.Errorf("%w: zero participation id", ErrInvalidEvent)
		}
	}
	return nil
}

type SkipReason string

const (
	SkipNotFound SkipReason = "not_found"
	SkipSettled  SkipReason = "settled"
)

type Allocation struct {
	ParticipationID uint  `json:"participation_id"`
	Amount          int64 `json:"amount"`
}

type Skipped struct {
	ParticipationID uint       `json:"participation_id"`
	Reason          SkipReason `json:"reason"`
}

// Outcome describes the rows written by one reconciliation.
type Outcome struct {
	GatewayReference string       `json:"gateway_reference"`
	MembershipID     uint         `json:"membership_id"`
	Currency         string       `json:"currency"`
	Allocations      []Allocation `json:"allocations"`
	Skipped          []Skipped    `json:"skipped,omitempty"`
	BalanceCredit    int64        `json:"balance_credit"`
	Duplicate        bool         `json:"duplicate"`
}

// Total is the sum of everything the outcome wrote.
func (o Outcome) Total() int64 {
	total := o.BalanceCredit
	for _, a := range o.Allocations {
		total += a.Amount
	}
	return total
}

type Engine struct {
	store Store
	log   logrus.FieldLogger
}

func NewEngine(store Store, log logrus.FieldLogger) *Engine {
	return &Engine{
		store: store,
		log:   log,
	}
}

// Reconcile distributes ev across its targets. Repeating a call with the same
// gateway reference allocates again; use ReconcileOnce to guard against
// gateway retries.
func (e *Engine) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	return e.run(ctx, ev, false)
}

// ReconcileOnce claims the gateway reference in the same transaction as the
// allocation. A reference that was already claimed yields an Outcome with
// Duplicate set and writes nothing.
func (e *Engine) ReconcileOnce(ctx context.Context, ev Event) (Outcome, error) {
	return e.run(ctx, ev, true)
}

func (e *Engine) run(ctx context.Context, ev Event, claim bool) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}
	ev.Currency = money.NormalizeCurrency(ev.Currency)

	log := e.log.WithFields(logrus.Fields{
		"gateway_reference": ev.GatewayReference,
		"membership_id":     ev.MembershipID,
		"amount":            ev.TotalAmount,
		"currency":          ev.Currency,
	})

	var out Outcome
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		out = Outcome{
			GatewayReference: ev.GatewayReference,
			MembershipID:     ev.MembershipID,
			Currency:         ev.Currency,
		}

		if claim {
			eventType := ev.EventType
			if eventType == "" {
				eventType = DefaultEventType
			}
			if err := tx.ClaimReference(ctx, ev.GatewayReference, eventType); err != nil {
				if errors.Is(err, ErrReferenceClaimed) {
					return err
				}
				return fmt.Errorf("%w: claim reference: %v", ErrPersistence, err)
			}
		}

		return e.allocate(ctx, tx, ev, &out, log)
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrReferenceClaimed):
		log.Info("gateway reference already reconciled, skipping")
		return Outcome{
			GatewayReference: ev.GatewayReference,
			MembershipID:     ev.MembershipID,
			Currency:         ev.Currency,
			Duplicate:        true,
		}, nil
	case errors.Is(err, ErrParticipationLookup), errors.Is(err, ErrPersistence):
		log.WithError(err).Error("reconciliation rolled back")
		return Outcome{}, err
	default:
		log.WithError(err).Error("reconciliation commit failed")
		return Outcome{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	log.WithFields(logrus.Fields{
		"allocations":    len(out.Allocations),
		"skipped":        len(out.Skipped),
		"balance_credit": out.BalanceCredit,
	}).Info("payment reconciled")

	return out, nil
}

func (e *Engine) allocate(ctx context.Context, tx Tx, ev Event, out *Outcome, log logrus.FieldLogger) error {
	remaining := ev.TotalAmount

	for _, id := range ev.Targets {
		if remaining == 0 {
			break
		}

		p, err := tx.Participation(ctx, id)
		if errors.Is(err, ErrParticipationNotFound) {
			log.WithField("participation_id", id).Warn("target participation not found, skipping")
			out.Skipped = append(out.Skipped, Skipped{ParticipationID: id, Reason: SkipNotFound})
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: participation %d: %v", ErrParticipationLookup, id, err)
		}

		if p.MeetingCurrency != "" && money.NormalizeCurrency(p.MeetingCurrency) != ev.Currency {
			log.WithFields(logrus.Fields{
				"participation_id": id,
				"meeting_currency": p.MeetingCurrency,
			}).Warn("event currency differs from meeting currency")
		}

		st := plan(p, remaining)
		if st.skip != "" {
			out.Skipped = append(out.Skipped, Skipped{ParticipationID: id, Reason: st.skip})
			continue
		}

		if err := tx.CreatePayment(ctx, NewPayment{
			ParticipationID:  id,
			Amount:           st.allocate,
			Currency:         ev.Currency,
			GatewayReference: ev.GatewayReference,
		}); err != nil {
			return fmt.Errorf("%w: payment for participation %d: %v", ErrPersistence, id, err)
		}

		out.Allocations = append(out.Allocations, Allocation{ParticipationID: id, Amount: st.allocate})
		remaining -= st.allocate
	}

	if remaining > 0 {
		if err := tx.CreateMembershipBalance(ctx, NewMembershipBalance{
			MembershipID:     ev.MembershipID,
			Amount:           remaining,
			Currency:         ev.Currency,
			GatewayReference: ev.GatewayReference,
		}); err != nil {
			return fmt.Errorf("%w: membership balance: %v", ErrPersistence, err)
		}
		out.BalanceCredit = remaining
	}

	return nil
}

// step is the decision for a single target.
type step struct {
	skip     SkipReason
	allocate int64
}

// plan computes how much of remaining goes to p. Payments recorded in a
// currency other than the meeting's do not count towards what is already paid.
func plan(p Participation, remaining int64) step {
	due := p.MeetingPrice - AlreadyPaid(p)
	if due <= 0 {
		return step{skip: SkipSettled}
	}
	return step{allocate: min(due, remaining)}
}

// AlreadyPaid sums the payments of p recorded in the meeting currency.
func AlreadyPaid(p Participation) int64 {
	currency := money.NormalizeCurrency(p.MeetingCurrency)
	var paid int64
	for _, pay := range p.Payments {
		if money.NormalizeCurrency(pay.Currency) == currency {
			paid += pay.Amount
		}
	}
	return paid
}
