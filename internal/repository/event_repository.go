package repository

import (
	"context"

	"billing-service/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ProviderStripe = "stripe"

type EventRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewEventRepository(db *gorm.DB, log *logrus.Logger) *EventRepository {
	return &EventRepository{
		db:  db,
		log: log,
	}
}

// EventExists checks if a reference was already claimed for provider
func (r *EventRepository) EventExists(ctx context.Context, provider, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProcessedEvent{}).
		Where("provider = ? AND reference = ?", provider, reference).
		Count(&count).Error

	return count > 0, err
}

// claimEvent inserts the reference and reports whether this call inserted it.
// A false result means another delivery already claimed it.
func claimEvent(db *gorm.DB, provider, reference, eventType string) (bool, error) {
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "reference"}},
		DoNothing: true,
	}).Create(&model.ProcessedEvent{
		Provider:  provider,
		Reference: reference,
		EventType: eventType,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
