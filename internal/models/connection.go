package models

import (
	"time"
)

// ConnectionRecord is one row of the per-subscriber connection ledger: a
// session from one source IP, possibly routed through a relay node. At most
// one open record (disconnected_at IS NULL) exists per (subscriber, ip) pair;
// duplicate events update the open record instead of inserting a new one.
type ConnectionRecord struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SubscriberID   uint       `gorm:"index;not null" json:"subscriber_id"`
	Username       string     `gorm:"size:100;index" json:"username"`
	IPAddress      string     `gorm:"size:45;not null;index" json:"ip_address"`
	RelayID        string     `gorm:"size:100" json:"relay_id"`
	DeviceInfo     string     `gorm:"type:text" json:"device_info"` // JSON blob from the client hello
	ConnectedAt    time.Time  `gorm:"index" json:"connected_at"`
	DisconnectedAt *time.Time `gorm:"index" json:"disconnected_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (ConnectionRecord) TableName() string {
	return "connection_records"
}
