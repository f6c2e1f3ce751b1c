package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Meeting is a single meeting instance of a circle with its price
type Meeting struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	CircleID  uint            `gorm:"index;not null" json:"circle_id"`
	Title     string          `gorm:"size:255" json:"title"`
	StartsAt  time.Time       `gorm:"index" json:"starts_at"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	Currency  string          `gorm:"size:3;not null" json:"currency"`
}

// TableName specifies the table name
func (Meeting) TableName() string {
	return "meetings"
}

// Membership is a user's standing relationship to a circle
type Membership struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	CircleID  uint      `gorm:"index;not null" json:"circle_id"`
}

// TableName specifies the table name
func (Membership) TableName() string {
	return "memberships"
}

// Participation is a membership's enrollment in one meeting
type Participation struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	MeetingID    uint      `gorm:"index;not null" json:"meeting_id"`
	MembershipID uint      `gorm:"index;not null" json:"membership_id"`
	Meeting      Meeting   `json:"meeting"`
	Payments     []Payment `json:"payments"`
}

// TableName specifies the table name
func (Participation) TableName() string {
	return "participations"
}

// Payment is an immutable ledger entry allocated to one participation.
// Amount is in minor units of Currency.
type Payment struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
	ParticipationID  uint      `gorm:"index;not null" json:"participation_id"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Currency         string    `gorm:"size:3;not null" json:"currency"`
	GatewayReference string    `gorm:"index;size:255" json:"gateway_reference"`
}

// TableName specifies the table name
func (Payment) TableName() string {
	return "payments"
}

// MembershipBalance is an immutable credit entry held against a membership.
// Amount is in minor units of Currency.
type MembershipBalance struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
	MembershipID     uint      `gorm:"index;not null" json:"membership_id"`
	Amount           int64     `gorm:"not null" json:"amount"`
	Currency         string    `gorm:"size:3;not null" json:"currency"`
	GatewayReference string    `gorm:"index;size:255" json:"gateway_reference"`
}

// TableName specifies the table name
func (MembershipBalance) TableName() string {
	return "membership_balances"
}

// BalanceTotal is the aggregated credit of a membership in one currency
type BalanceTotal struct {
	MembershipID uint   `json:"membership_id"`
	Currency     string `json:"currency"`
	Amount       int64  `json:"amount"`
}
