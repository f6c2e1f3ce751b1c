package repository

import (
	"context"
	"errors"
	"fmt"

	"billing-service/internal/model"
	"billing-service/internal/money"
	"billing-service/internal/reconcile"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository reads participations and writes payment ledger rows.
// It implements reconcile.Store.
type LedgerRepository struct {
	db       *gorm.DB
	log      *logrus.Logger
	provider string
}

func NewLedgerRepository(db *gorm.DB, log *logrus.Logger) *LedgerRepository {
	return &LedgerRepository{
		db:       db,
		log:      log,
		provider: ProviderStripe,
	}
}

// WithinTx runs fn inside a database transaction
func (r *LedgerRepository) WithinTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx, provider: r.provider})
	})
}

type ledgerTx struct {
	db       *gorm.DB
	provider string
}

// Participation locks the participation row for the rest of the transaction
func (t *ledgerTx) Participation(ctx context.Context, id uint) (reconcile.Participation, error) {
	var p model.Participation
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Meeting").
		Preload("Payments").
		First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return reconcile.Participation{}, reconcile.ErrParticipationNotFound
	}
	if err != nil {
		return reconcile.Participation{}, err
	}

	return toReconcileParticipation(p)
}

func (t *ledgerTx) CreatePayment(ctx context.Context, p reconcile.NewPayment) error {
	return t.db.WithContext(ctx).Create(&model.Payment{
		ParticipationID:  p.ParticipationID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		GatewayReference: p.GatewayReference,
	}).Error
}

func (t *ledgerTx) CreateMembershipBalance(ctx context.Context, b reconcile.NewMembershipBalance) error {
	return t.db.WithContext(ctx).Create(&model.MembershipBalance{
		MembershipID:     b.MembershipID,
		Amount:           b.Amount,
		Currency:         b.Currency,
		GatewayReference: b.GatewayReference,
	}).Error
}

func (t *ledgerTx) ClaimReference(ctx context.Context, reference, eventType string) error {
	inserted, err := claimEvent(t.db.WithContext(ctx), t.provider, reference, eventType)
	if err != nil {
		return err
	}
	if !inserted {
		return reconcile.ErrReferenceClaimed
	}
	return nil
}

func toReconcileParticipation(p model.Participation) (reconcile.Participation, error) {
	if p.Meeting.ID == 0 {
		return reconcile.Participation{}, fmt.Errorf("participation %d: meeting %d not found", p.ID, p.MeetingID)
	}
	currency := money.NormalizeCurrency(p.Meeting.Currency)
	price, err := money.ToMinor(p.Meeting.Price, currency)
	if err != nil {
		return reconcile.Participation{}, fmt.Errorf("meeting %d price: %w", p.MeetingID, err)
	}

	out := reconcile.Participation{
		ID:              p.ID,
		MembershipID:    p.MembershipID,
		MeetingPrice:    price,
		MeetingCurrency: currency,
		Payments:        make([]reconcile.RecordedPayment, 0, len(p.Payments)),
	}
	for _, pay := range p.Payments {
		out.Payments = append(out.Payments, reconcile.RecordedPayment{
			Amount:   pay.Amount,
			Currency: pay.Currency,
		})
	}
	return out, nil
}

// PaymentsByParticipation lists the ledger rows of a participation, oldest first
func (r *LedgerRepository) PaymentsByParticipation(ctx context.Context, participationID uint) ([]model.Payment, error) {
	var payments []model.Payment
	err := r.db.WithContext(ctx).
		Where("participation_id = ?", participationID).
		Order("id").
		Find(&payments).Error

	return payments, err
}

// PaymentsByMembership lists the payments of every participation of a membership
func (r *LedgerRepository) PaymentsByMembership(ctx context.Context, membershipID uint) ([]model.Payment, error) {
	var payments []model.Payment
	err := r.db.WithContext(ctx).
		Joins("JOIN participations ON participations.id = payments.participation_id").
		Where("participations.membership_id = ?", membershipID).
		Order("payments.id").
		Find(&payments).Error

	return payments, err
}

// BalancesByMembership lists the credit rows of a membership, oldest first
func (r *LedgerRepository) BalancesByMembership(ctx context.Context, membershipID uint) ([]model.MembershipBalance, error) {
	var balances []model.MembershipBalance
	err := r.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		Order("id").
		Find(&balances).Error

	return balances, err
}

// BalanceTotals aggregates credit per membership and currency (for cache sync)
func (r *LedgerRepository) BalanceTotals(ctx context.Context, limit, offset int) ([]model.BalanceTotal, error) {
	var totals []model.BalanceTotal
	err := r.db.WithContext(ctx).
		Model(&model.MembershipBalance{}).
		Select("membership_id, currency, SUM(amount) AS amount").
		Group("membership_id, currency").
		Order("membership_id, currency").
		Limit(limit).
		Offset(offset).
		Scan(&totals).Error

	return totals, err
}

// MembershipBalanceTotals aggregates the credit of one membership per currency
func (r *LedgerRepository) MembershipBalanceTotals(ctx context.Context, membershipID uint) ([]model.BalanceTotal, error) {
	var totals []model.BalanceTotal
	err := r.db.WithContext(ctx).
		Model(&model.MembershipBalance{}).
		Select("membership_id, currency, SUM(amount) AS amount").
		Where("membership_id = ?", membershipID).
		Group("membership_id, currency").
		Order("currency").
		Scan(&totals).Error

	return totals, err
}

// CountBalanceTotals returns the number of (membership, currency) groups
func (r *LedgerRepository) CountBalanceTotals(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("(?) AS totals", r.db.Model(&model.MembershipBalance{}).
			Select("membership_id, currency").
			Group("membership_id, currency")).
		Count(&count).Error
	return count, err
}
