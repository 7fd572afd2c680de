package models

import (
	"time"

	"gorm.io/gorm"
)

// SubscriberStatus represents the status of a subscriber
type SubscriberStatus string

const (
	SubscriberStatusActive   SubscriberStatus = "active"
	SubscriberStatusDisabled SubscriberStatus = "disabled"
	SubscriberStatusLimited  SubscriberStatus = "limited"
	SubscriberStatusExpired  SubscriberStatus = "expired"
)

// Subscriber is a local mirror of a subscriber known to the upstream access
// control panel. The panel is the authoritative source; rows here are upserted
// by the ingestion path and only carry what detection and reporting need.
type Subscriber struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	ExternalUID string           `gorm:"size:64;index" json:"external_uid"`
	Username    string           `gorm:"uniqueIndex;size:100;not null" json:"username"`
	FullName    string           `gorm:"size:255" json:"full_name"`
	Status      SubscriberStatus `gorm:"size:20;default:'active';index" json:"status"`
	DeviceLimit int              `gorm:"default:3" json:"device_limit"`
	LastSeenAt  *time.Time       `json:"last_seen_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeletedAt   gorm.DeletedAt   `gorm:"index" json:"-"`
}

func (Subscriber) TableName() string {
	return "subscribers"
}
