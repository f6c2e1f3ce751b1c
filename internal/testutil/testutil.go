// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"io"
	"path/filepath"
	"testing"

	"billing-service/internal/config"
	"billing-service/internal/database"
	"billing-service/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Logger returns a logger that discards output.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// OpenDB opens a migrated sqlite database in a temp dir, closed on cleanup.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "billing.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, Logger())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db.DB
}

// Seed creates a membership and one participation per price, all in currency.
// Prices are decimal strings such as "120.00".
func Seed(t *testing.T, db *gorm.DB, currency string, prices ...string) (model.Membership, []model.Participation) {
	t.Helper()

	membership := model.Membership{UserID: 1, CircleID: 1}
	if err := db.Create(&membership).Error; err != nil {
		t.Fatalf("seed membership: %v", err)
	}

	parts := make([]model.Participation, 0, len(prices))
	for i, price := range prices {
		meeting := model.Meeting{
			CircleID: 1,
			Title:    "Krąg",
			Price:    decimal.RequireFromString(price),
			Currency: currency,
		}
		if err := db.Create(&meeting).Error; err != nil {
			t.Fatalf("seed meeting %d: %v", i, err)
		}

		p := model.Participation{MeetingID: meeting.ID, MembershipID: membership.ID}
		if err := db.Omit(clause.Associations).Create(&p).Error; err != nil {
			t.Fatalf("seed participation %d: %v", i, err)
		}
		parts = append(parts, p)
	}
	return membership, parts
}
