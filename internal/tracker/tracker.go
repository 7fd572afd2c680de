package tracker

import (
	"fmt"
	"log"
	"time"

	"github.com/proxguard/backend/internal/models"
	"gorm.io/gorm"
)

// IPSwitchGracePeriod is how long an open record on a different IP may
// coexist with a newer one before reconciliation closes it. Relay handover
// and mobile network switches legitimately overlap for a short time.
const IPSwitchGracePeriod = 2 * time.Minute

// Tracker maintains the connection ledger: one open record per
// (subscriber, ip), closed either by an explicit stop event or by
// IP-switch reconciliation.
type Tracker struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// RecordConnection upserts the open ledger record for (subscriber, ip).
// connected_at only moves forward, relay and device info update when
// supplied. Open records on other IPs older than the grace period are
// closed. Storage failures are logged and returned, never panic; the
// ingest path treats them as a degraded result.
func (t *Tracker) RecordConnection(subscriberID uint, username, ip, relayID, deviceInfo string, observedAt time.Time) (uint, error) {
	if ip == "" {
		return 0, fmt.Errorf("empty ip address")
	}
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	var record models.ConnectionRecord
	err := t.db.Where("subscriber_id = ? AND ip_address = ? AND disconnected_at IS NULL",
		subscriberID, ip).First(&record).Error

	switch {
	case err == nil:
		updates := map[string]interface{}{}
		if observedAt.After(record.ConnectedAt) {
			updates["connected_at"] = observedAt
		}
		if relayID != "" && relayID != record.RelayID {
			updates["relay_id"] = relayID
		}
		if deviceInfo != "" && deviceInfo != record.DeviceInfo {
			updates["device_info"] = deviceInfo
		}
		if len(updates) > 0 {
			if err := t.db.Model(&record).Updates(updates).Error; err != nil {
				log.Printf("[Tracker] Failed to update connection %d for %s: %v", record.ID, username, err)
				return record.ID, err
			}
		}
	case err == gorm.ErrRecordNotFound:
		record = models.ConnectionRecord{
			SubscriberID: subscriberID,
			Username:     username,
			IPAddress:    ip,
			RelayID:      relayID,
			DeviceInfo:   deviceInfo,
			ConnectedAt:  observedAt,
		}
		if err := t.db.Create(&record).Error; err != nil {
			log.Printf("[Tracker] Failed to record connection for %s from %s: %v", username, ip, err)
			return 0, err
		}
	default:
		log.Printf("[Tracker] Connection lookup failed for %s: %v", username, err)
		return 0, err
	}

	t.reconcileIPSwitch(subscriberID, ip, observedAt)
	return record.ID, nil
}

// reconcileIPSwitch closes open records for the subscriber on other IPs
// whose connected_at is older than the grace window. A record refreshed
// within the window is a legitimate overlap and stays open.
func (t *Tracker) reconcileIPSwitch(subscriberID uint, currentIP string, observedAt time.Time) {
	cutoff := observedAt.Add(-IPSwitchGracePeriod)
	result := t.db.Model(&models.ConnectionRecord{}).
		Where("subscriber_id = ? AND ip_address != ? AND disconnected_at IS NULL AND connected_at < ?",
			subscriberID, currentIP, cutoff).
		Update("disconnected_at", observedAt)
	if result.Error != nil {
		log.Printf("[Tracker] IP-switch reconciliation failed for subscriber %d: %v", subscriberID, result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("[Tracker] Closed %d stale connection(s) for subscriber %d after switch to %s",
			result.RowsAffected, subscriberID, currentIP)
	}
}

// CloseConnection closes the open record for (subscriber, ip). Closing an
// already closed or unknown pair is a no-op.
func (t *Tracker) CloseConnection(subscriberID uint, ip string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	result := t.db.Model(&models.ConnectionRecord{}).
		Where("subscriber_id = ? AND ip_address = ? AND disconnected_at IS NULL", subscriberID, ip).
		Update("disconnected_at", at)
	if result.Error != nil {
		log.Printf("[Tracker] Failed to close connection for subscriber %d from %s: %v", subscriberID, ip, result.Error)
		return result.Error
	}
	return nil
}

// GetActiveConnections returns open records whose connected_at falls inside
// the freshness window, newest first. maxAgeMinutes <= 0 defaults to 5.
func (t *Tracker) GetActiveConnections(subscriberID uint, limit, maxAgeMinutes int) ([]models.ConnectionRecord, error) {
	if maxAgeMinutes <= 0 {
		maxAgeMinutes = 5
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-time.Duration(maxAgeMinutes) * time.Minute)

	var records []models.ConnectionRecord
	err := t.db.Where("subscriber_id = ? AND disconnected_at IS NULL AND connected_at > ?",
		subscriberID, cutoff).
		Order("connected_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active connections: %w", err)
	}
	return records, nil
}

// GetUniqueIPsInWindow returns the distinct IPs a subscriber connected from
// within the window, open or closed.
func (t *Tracker) GetUniqueIPsInWindow(subscriberID uint, windowMinutes int) ([]string, error) {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	cutoff := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)

	var ips []string
	err := t.db.Model(&models.ConnectionRecord{}).
		Where("subscriber_id = ? AND connected_at > ?", subscriberID, cutoff).
		Distinct("ip_address").
		Pluck("ip_address", &ips).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get unique IPs: %w", err)
	}
	return ips, nil
}

// GetSimultaneousConnections counts all open records regardless of age.
// Active connections filter by freshness, this deliberately does not: a
// long-lived tunnel with no recent event still counts as simultaneous.
func (t *Tracker) GetSimultaneousConnections(subscriberID uint) (int, error) {
	var count int64
	err := t.db.Model(&models.ConnectionRecord{}).
		Where("subscriber_id = ? AND disconnected_at IS NULL", subscriberID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open connections: %w", err)
	}
	return int(count), nil
}

// GetConnectionHistory returns records from the last N days, newest first.
func (t *Tracker) GetConnectionHistory(subscriberID uint, days, limit int) ([]models.ConnectionRecord, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 200
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var records []models.ConnectionRecord
	err := t.db.Where("subscriber_id = ? AND connected_at > ?", subscriberID, cutoff).
		Order("connected_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get connection history: %w", err)
	}
	return records, nil
}
