package models

import (
	"time"
)

// Report cadences
const (
	ReportTypeDaily   = "daily"
	ReportTypeWeekly  = "weekly"
	ReportTypeMonthly = "monthly"
	ReportTypeCustom  = "custom"
)

// ViolationReport is one generated report over a period. sent_at is set
// exactly once, after the notification sink accepted the rendered message.
type ViolationReport struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ReportUID   string    `gorm:"size:36;uniqueIndex" json:"report_uid"`
	ReportType  string    `gorm:"size:10;index" json:"report_type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	TotalViolations int     `json:"total_violations"`
	CriticalCount   int     `json:"critical_count"`
	WarningCount    int     `json:"warning_count"`
	MonitorCount    int     `json:"monitor_count"`
	UniqueUsers     int     `json:"unique_users"`
	TrendPercent    float64 `json:"trend_percent"` // vs previous period of equal length

	// Serialized breakdowns (JSON stored as strings)
	TopViolators string `gorm:"type:text" json:"top_violators"`
	ByCountry    string `gorm:"type:text" json:"by_country"`
	ByAction     string `gorm:"type:text" json:"by_action"`
	ByASNType    string `gorm:"type:text" json:"by_asn_type"`

	Message     string     `gorm:"type:text" json:"message"`
	GeneratedAt time.Time  `gorm:"index" json:"generated_at"`
	SentAt      *time.Time `json:"sent_at"`
}

func (ViolationReport) TableName() string {
	return "violation_reports"
}

// ReportSetting stores report scheduling configuration
type ReportSetting struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Enabled        bool      `gorm:"default:true" json:"enabled"`
	DailyEnabled   bool      `gorm:"default:true" json:"daily_enabled"`
	DailyTime      string    `gorm:"size:5;default:'09:00'" json:"daily_time"` // HH:MM
	WeeklyEnabled  bool      `gorm:"default:false" json:"weekly_enabled"`
	WeeklyDay      int       `gorm:"default:1" json:"weekly_day"` // time.Weekday, 1 = Monday
	WeeklyTime     string    `gorm:"size:5;default:'09:00'" json:"weekly_time"`
	MonthlyEnabled bool      `gorm:"default:false" json:"monthly_enabled"`
	MonthlyDay     int       `gorm:"default:1" json:"monthly_day"` // day of month
	MonthlyTime    string    `gorm:"size:5;default:'09:00'" json:"monthly_time"`
	MinScore       float64   `gorm:"default:0" json:"min_score"`
	SendEmpty      bool      `gorm:"default:false" json:"send_empty"`
	TopLimit       int       `gorm:"default:10" json:"top_limit"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ReportSetting) TableName() string {
	return "report_settings"
}

// ReportScheduleState is the per-cadence idempotency gate: one row per report
// type holding the date a scheduled report was last sent. Surviving restarts
// keeps the scheduler from re-firing when the process bounces mid-day.
type ReportScheduleState struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ReportType   string    `gorm:"size:10;uniqueIndex;not null" json:"report_type"`
	LastSentDate string    `gorm:"size:10" json:"last_sent_date"` // YYYY-MM-DD
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ReportScheduleState) TableName() string {
	return "report_schedule_states"
}
