package models

import (
	"time"
)

// Connection types derived from ASN classification
const (
	ConnectionTypeResidential = "residential"
	ConnectionTypeMobile      = "mobile"
	ConnectionTypeDatacenter  = "datacenter"
	ConnectionTypeVPN         = "vpn"
	ConnectionTypeUnknown     = "unknown"
)

// IPMetadata is the persisted geolocation/network-provider record for one IP.
// Rows are refreshed by the resolver when older than the freshness window.
type IPMetadata struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	IPAddress     string    `gorm:"uniqueIndex;size:45;not null" json:"ip_address"`
	CountryCode   string    `gorm:"size:2;index" json:"country_code"`
	Country       string    `gorm:"size:100" json:"country"`
	Region        string    `gorm:"size:100" json:"region"`
	City          string    `gorm:"size:100" json:"city"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timezone      string    `gorm:"size:64" json:"timezone"`
	ASN           int       `gorm:"index" json:"asn"`
	ASNOrg        string    `gorm:"size:255" json:"asn_org"`
	ConnectionType string   `gorm:"size:20;default:'unknown';index" json:"connection_type"`
	IsProxy       bool      `gorm:"default:false" json:"is_proxy"`
	IsVPN         bool      `gorm:"default:false" json:"is_vpn"`
	IsTor         bool      `gorm:"default:false" json:"is_tor"`
	IsHosting     bool      `gorm:"default:false" json:"is_hosting"`
	IsMobile      bool      `gorm:"default:false" json:"is_mobile"`
	LastCheckedAt time.Time `gorm:"index" json:"last_checked_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (IPMetadata) TableName() string {
	return "ip_metadata"
}

// ASNOverride is a curated registry entry that pins the provider type for a
// known autonomous system. An active entry beats keyword heuristics whenever
// the subject IP's country falls inside the entry's scope (empty country code
// means global scope).
type ASNOverride struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ASN          int       `gorm:"uniqueIndex:idx_asn_scope;not null" json:"asn"`
	Organization string    `gorm:"size:255" json:"organization"`
	ProviderType string    `gorm:"size:20;not null" json:"provider_type"`
	Region       string    `gorm:"size:100" json:"region"`
	City         string    `gorm:"size:100" json:"city"`
	CountryCode  string    `gorm:"size:2;uniqueIndex:idx_asn_scope" json:"country_code"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ASNOverride) TableName() string {
	return "asn_overrides"
}

// ClassifierRule is one ordered (pattern, category) row of the keyword
// ruleset matched against ASN organization names. Lower priority runs first.
type ClassifierRule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Pattern   string    `gorm:"size:100;not null" json:"pattern"`
	Category  string    `gorm:"size:20;not null;index" json:"category"` // vpn, mobile, datacenter
	Priority  int       `gorm:"default:100;index" json:"priority"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (ClassifierRule) TableName() string {
	return "classifier_rules"
}
