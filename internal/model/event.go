package model

import "time"

// ProcessedEvent records a gateway reference that has already been reconciled
type ProcessedEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	Provider  string    `gorm:"size:20;not null;uniqueIndex:ux_processed_events_provider_reference,priority:1" json:"provider"`
	Reference string    `gorm:"size:191;not null;uniqueIndex:ux_processed_events_provider_reference,priority:2" json:"reference"`
	EventType string    `gorm:"size:100" json:"event_type"`
}

// TableName specifies the table name
func (ProcessedEvent) TableName() string {
	return "processed_events"
}
