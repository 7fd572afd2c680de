package models

import (
	"time"
)

// SystemPreference represents system-wide preferences
type SystemPreference struct {
	ID        uint   `gorm:"column:id;primaryKey" json:"id"`
	Key       string `gorm:"column:key;size:100;uniqueIndex;not null" json:"key"`
	Value     string `gorm:"column:value;type:text" json:"value"`
	ValueType string `gorm:"column:value_type;size:20;default:string" json:"value_type"` // string, int, bool, json
}

func (SystemPreference) TableName() string {
	return "system_preferences"
}

// SyncStatus records the last run of a background subsystem (abuse scan,
// report scheduler, metadata refresh) for operability dashboards.
type SyncStatus struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Subsystem      string     `gorm:"size:50;uniqueIndex;not null" json:"subsystem"`
	LastRunAt      *time.Time `json:"last_run_at"`
	LastStatus     string     `gorm:"size:20" json:"last_status"` // ok, error
	LastError      string     `gorm:"type:text" json:"last_error"`
	ItemsProcessed int        `gorm:"default:0" json:"items_processed"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (SyncStatus) TableName() string {
	return "sync_statuses"
}
