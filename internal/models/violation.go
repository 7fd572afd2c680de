package models

import (
	"time"
)

// Recommended actions attached to a violation at detection time
const (
	ActionNone        = "none"
	ActionMonitor     = "monitor"
	ActionInvestigate = "investigate"
	ActionRestrict    = "restrict"
)

// Score bands
const (
	ScoreBandCritical = 80.0
	ScoreBandWarning  = 50.0
	ScoreBandMonitor  = 30.0
)

// ViolationRecord stores one detected abuse incident. Records are append-only:
// after creation only the operator follow-up fields (action_taken*) and
// notified_at may change. Signal lists are JSON arrays stored as text.
type ViolationRecord struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	SubscriberID uint        `gorm:"index;not null" json:"subscriber_id"`
	Subscriber   *Subscriber `gorm:"foreignKey:SubscriberID;references:ID" json:"subscriber,omitempty"`
	Username     string      `gorm:"size:100;index" json:"username"`
	FullName     string      `gorm:"size:255" json:"full_name"`

	Score             float64  `gorm:"index" json:"score"` // 0-100
	RecommendedAction string   `gorm:"size:20;index" json:"recommended_action"`
	Confidence        *float64 `json:"confidence"`

	// Component scores
	ScoreTemporal float64 `json:"score_temporal"`
	ScoreGeo      float64 `json:"score_geo"`
	ScoreASN      float64 `json:"score_asn"`
	ScoreProfile  float64 `json:"score_profile"`
	ScoreDevice   float64 `json:"score_device"`

	// Contextual signal lists (JSON arrays stored as strings)
	IPs        string `gorm:"type:text" json:"ips"`
	Countries  string `gorm:"type:text" json:"countries"`
	Cities     string `gorm:"type:text" json:"cities"`
	ASNTypes   string `gorm:"type:text" json:"asn_types"`
	OSList     string `gorm:"type:text" json:"os_list"`
	ClientList string `gorm:"type:text" json:"client_list"`
	Reasons    string `gorm:"type:text" json:"reasons"`

	// Concurrency counters
	SimultaneousConnections int `json:"simultaneous_connections"`
	UniqueIPCount           int `json:"unique_ip_count"`
	DeviceLimit             int `json:"device_limit"`

	ImpossibleTravel bool `gorm:"default:false" json:"impossible_travel"`
	IsMobile         bool `gorm:"default:false" json:"is_mobile"`
	IsDatacenter     bool `gorm:"default:false" json:"is_datacenter"`
	IsVPN            bool `gorm:"default:false" json:"is_vpn"`

	DetectedAt    time.Time  `gorm:"index" json:"detected_at"`
	NotifiedAt    *time.Time `json:"notified_at"`
	ActionTaken   *string    `gorm:"size:50" json:"action_taken"`
	ActionTakenBy *string    `gorm:"size:100" json:"action_taken_by"`
	ActionTakenAt *time.Time `json:"action_taken_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (ViolationRecord) TableName() string {
	return "violation_records"
}

// DetectionSetting stores abuse scan configuration
type DetectionSetting struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Enabled             bool      `gorm:"default:true" json:"enabled"`
	ScanIntervalMinutes int       `gorm:"default:5" json:"scan_interval_minutes"`
	WindowMinutes       int       `gorm:"default:60" json:"window_minutes"`
	MinScore            float64   `gorm:"default:30" json:"min_score"` // only persist at or above
	RetentionDays       int       `gorm:"default:90" json:"retention_days"`
	NotifyOnCritical    bool      `gorm:"default:true" json:"notify_on_critical"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (DetectionSetting) TableName() string {
	return "detection_settings"
}
