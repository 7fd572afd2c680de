package violations

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/proxguard/backend/internal/models"
	"gorm.io/gorm"
)

// Store persists violation records and serves the aggregations the report
// generator and admin API are built on. Records are append-only; only the
// operator follow-up fields mutate after insert.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Stats summarizes one period. Bands: critical >= 80, warning [50,80),
// monitor [30,50).
type Stats struct {
	Total       int     `json:"total"`
	Critical    int     `json:"critical"`
	Warning     int     `json:"warning"`
	Monitor     int     `json:"monitor"`
	UniqueUsers int     `json:"unique_users"`
	AvgScore    float64 `json:"avg_score"`
	MaxScore    float64 `json:"max_score"`
}

// TopViolator is one row of the repeat-offender ranking.
type TopViolator struct {
	SubscriberID uint      `json:"subscriber_id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Count        int       `json:"count"`
	MaxScore     float64   `json:"max_score"`
	LastDetected time.Time `json:"last_detected"`
}

// SaveViolation inserts one immutable record.
func (s *Store) SaveViolation(v *models.ViolationRecord) error {
	if v.DetectedAt.IsZero() {
		v.DetectedAt = time.Now().UTC()
	}
	if err := s.db.Create(v).Error; err != nil {
		return fmt.Errorf("failed to save violation: %w", err)
	}
	return nil
}

// GetStatsForPeriod aggregates counts and score bands in one query.
func (s *Store) GetStatsForPeriod(start, end time.Time, minScore float64) (*Stats, error) {
	var stats Stats
	err := s.db.Model(&models.ViolationRecord{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN score >= 80 THEN 1 ELSE 0 END), 0) AS critical,
			COALESCE(SUM(CASE WHEN score >= 50 AND score < 80 THEN 1 ELSE 0 END), 0) AS warning,
			COALESCE(SUM(CASE WHEN score >= 30 AND score < 50 THEN 1 ELSE 0 END), 0) AS monitor,
			COUNT(DISTINCT subscriber_id) AS unique_users,
			COALESCE(AVG(score), 0) AS avg_score,
			COALESCE(MAX(score), 0) AS max_score`).
		Where("detected_at >= ? AND detected_at < ? AND score >= ?", start, end, minScore).
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	return &stats, nil
}

// GetTopViolatorsForPeriod ranks subscribers by violation count, ties broken
// by highest score.
func (s *Store) GetTopViolatorsForPeriod(start, end time.Time, minScore float64, limit int) ([]TopViolator, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []TopViolator
	err := s.db.Model(&models.ViolationRecord{}).
		Select(`subscriber_id, username, full_name,
			COUNT(*) AS count, MAX(score) AS max_score, MAX(detected_at) AS last_detected`).
		Where("detected_at >= ? AND detected_at < ? AND score >= ?", start, end, minScore).
		Group("subscriber_id, username, full_name").
		Order("count DESC, max_score DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank violators: %w", err)
	}
	return rows, nil
}

// GetViolationsByAction returns a histogram keyed by recommended action.
func (s *Store) GetViolationsByAction(start, end time.Time, minScore float64) (map[string]int, error) {
	type bucket struct {
		Action string
		Count  int
	}
	var rows []bucket
	err := s.db.Model(&models.ViolationRecord{}).
		Select("recommended_action AS action, COUNT(*) AS count").
		Where("detected_at >= ? AND detected_at < ? AND score >= ?", start, end, minScore).
		Group("recommended_action").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by action: %w", err)
	}
	result := make(map[string]int, len(rows))
	for _, r := range rows {
		result[r.Action] = r.Count
	}
	return result, nil
}

// GetViolationsByCountry explodes the per-record country lists so one
// violation spanning several countries feeds every bucket it names.
func (s *Store) GetViolationsByCountry(start, end time.Time, minScore float64) (map[string]int, error) {
	return s.explodeListColumn("countries", start, end, minScore)
}

// GetViolationsByASNType explodes the per-record ASN type lists.
func (s *Store) GetViolationsByASNType(start, end time.Time, minScore float64) (map[string]int, error) {
	return s.explodeListColumn("asn_types", start, end, minScore)
}

func (s *Store) explodeListColumn(column string, start, end time.Time, minScore float64) (map[string]int, error) {
	var lists []string
	err := s.db.Model(&models.ViolationRecord{}).
		Where("detected_at >= ? AND detected_at < ? AND score >= ?", start, end, minScore).
		Pluck(column, &lists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read %s lists: %w", column, err)
	}

	result := make(map[string]int)
	for _, raw := range lists {
		if raw == "" {
			continue
		}
		var values []string
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			log.Printf("[Violations] Skipping malformed %s list: %v", column, err)
			continue
		}
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			result[v]++
		}
	}
	return result, nil
}

// GetUserViolations returns a subscriber's records from the last N days,
// newest first.
func (s *Store) GetUserViolations(subscriberID uint, days, limit int) ([]models.ViolationRecord, error) {
	if days <= 0 {
		days = 30
	}
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var records []models.ViolationRecord
	err := s.db.Where("subscriber_id = ? AND detected_at > ?", subscriberID, cutoff).
		Order("detected_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get user violations: %w", err)
	}
	return records, nil
}

// List returns records for the admin API, newest first, optionally filtered
// by action.
func (s *Store) List(start, end time.Time, minScore float64, action string, limit, offset int) ([]models.ViolationRecord, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.db.Model(&models.ViolationRecord{}).
		Where("detected_at >= ? AND detected_at < ? AND score >= ?", start, end, minScore)
	if action != "" {
		query = query.Where("recommended_action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count violations: %w", err)
	}

	var records []models.ViolationRecord
	err := query.Order("detected_at DESC").Limit(limit).Offset(offset).Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list violations: %w", err)
	}
	return records, total, nil
}

// UpdateViolationAction records the operator follow-up. Re-applying the same
// action is a no-op so retried requests do not churn timestamps.
func (s *Store) UpdateViolationAction(id uint, action, operator string) error {
	var record models.ViolationRecord
	if err := s.db.First(&record, id).Error; err != nil {
		return fmt.Errorf("violation %d not found: %w", id, err)
	}

	if record.ActionTaken != nil && *record.ActionTaken == action {
		return nil
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"action_taken":    action,
		"action_taken_by": operator,
		"action_taken_at": now,
	}
	if err := s.db.Model(&record).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update violation action: %w", err)
	}
	return nil
}

// MarkViolationNotified stamps notified_at once; later calls keep the
// original timestamp.
func (s *Store) MarkViolationNotified(id uint) error {
	result := s.db.Model(&models.ViolationRecord{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to mark violation notified: %w", result.Error)
	}
	return nil
}

// CleanupOldRecords removes records past the retention window. Returns the
// number of rows deleted.
func (s *Store) CleanupOldRecords(retentionDays int) int64 {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := s.db.Where("detected_at < ?", cutoff).Delete(&models.ViolationRecord{})
	if result.Error != nil {
		log.Printf("[Violations] Retention cleanup failed: %v", result.Error)
		return 0
	}
	return result.RowsAffected
}
