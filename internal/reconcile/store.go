package reconcile

import "context"

// Participation is the engine's view of a participation: the meeting price in
// minor units and the payments already recorded against it.
type Participation struct {
	ID              uint
	MembershipID    uint
	MeetingPrice    int64
	MeetingCurrency string
	Payments        []RecordedPayment
}

type RecordedPayment struct {
	Amount   int64
	Currency string
}

type NewPayment struct {
	ParticipationID  uint
	Amount           int64
	Currency         string
	GatewayReference string
}

type NewMembershipBalance struct {
	MembershipID     uint
	Amount           int64
	Currency         string
	GatewayReference string
}

// Tx is the set of reads and writes available inside one reconciliation.
// Implementations must lock the participation rows they return until the
// transaction ends.
type Tx interface {
	Participation(ctx context.Context, id uint) (Participation, error)
	CreatePayment(ctx context.Context, p NewPayment) error
	CreateMembershipBalance(ctx context.Context, b NewMembershipBalance) error
	ClaimReference(ctx context.Context, reference, eventType string) error
}

// Store runs fn in a transaction. It commits when fn returns nil and rolls
// back otherwise, returning fn's error unchanged.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
