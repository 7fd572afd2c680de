package violations

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/proxguard/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ViolationRecord{}))
	return NewStore(db)
}

func seedViolation(t *testing.T, s *Store, subscriberID uint, username string, score float64, at time.Time) *models.ViolationRecord {
	v := &models.ViolationRecord{
		SubscriberID: subscriberID,
		Username:     username,
		Score:        score,
		DetectedAt:   at,
	}
	require.NoError(t, s.SaveViolation(v))
	return v
}

func TestGetStatsForPeriodBands(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	seedViolation(t, s, 1, "alice", 95, now.Add(-time.Hour))
	seedViolation(t, s, 2, "bob", 60, now.Add(-time.Hour))
	seedViolation(t, s, 3, "carol", 40, now.Add(-time.Hour))
	seedViolation(t, s, 1, "alice", 10, now.Add(-time.Hour))

	stats, err := s.GetStatsForPeriod(now.Add(-24*time.Hour), now, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Critical)
	assert.Equal(t, 1, stats.Warning)
	assert.Equal(t, 1, stats.Monitor)
	assert.Equal(t, 3, stats.UniqueUsers)
	assert.InDelta(t, 51.25, stats.AvgScore, 0.01)
	assert.Equal(t, 95.0, stats.MaxScore)
}

func TestGetStatsForPeriodBoundaries(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	// Exactly 80 is critical, exactly 50 is warning, exactly 30 is monitor
	seedViolation(t, s, 1, "a", 80, now.Add(-time.Hour))
	seedViolation(t, s, 2, "b", 50, now.Add(-time.Hour))
	seedViolation(t, s, 3, "c", 30, now.Add(-time.Hour))

	stats, err := s.GetStatsForPeriod(now.Add(-24*time.Hour), now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Critical)
	assert.Equal(t, 1, stats.Warning)
	assert.Equal(t, 1, stats.Monitor)
}

func TestGetStatsForPeriodMinScoreFilter(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	seedViolation(t, s, 1, "alice", 95, now.Add(-time.Hour))
	seedViolation(t, s, 2, "bob", 20, now.Add(-time.Hour))
	// Outside the period
	seedViolation(t, s, 3, "carol", 90, now.Add(-48*time.Hour))

	stats, err := s.GetStatsForPeriod(now.Add(-24*time.Hour), now, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.UniqueUsers)
}

func TestGetStatsForPeriodEmpty(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	stats, err := s.GetStatsForPeriod(now.Add(-24*time.Hour), now, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0.0, stats.AvgScore)
	assert.Equal(t, 0.0, stats.MaxScore)
}

func TestGetTopViolatorsOrdering(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	// bob: 2 violations, alice: 2 violations but higher max score, carol: 1
	seedViolation(t, s, 1, "alice", 90, now.Add(-3*time.Hour))
	seedViolation(t, s, 1, "alice", 50, now.Add(-2*time.Hour))
	seedViolation(t, s, 2, "bob", 60, now.Add(-3*time.Hour))
	seedViolation(t, s, 2, "bob", 55, now.Add(-time.Hour))
	seedViolation(t, s, 3, "carol", 99, now.Add(-time.Hour))

	top, err := s.GetTopViolatorsForPeriod(now.Add(-24*time.Hour), now, 0, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "alice", top[0].Username, "count ties broken by max score")
	assert.Equal(t, 2, top[0].Count)
	assert.Equal(t, 90.0, top[0].MaxScore)
	assert.Equal(t, "bob", top[1].Username)
}

func TestHistogramExplodesMultiValuedLists(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	v1 := &models.ViolationRecord{
		SubscriberID: 1, Username: "alice", Score: 80,
		Countries:  `["DE","FR"]`,
		ASNTypes:   `["residential","vpn"]`,
		DetectedAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.SaveViolation(v1))
	v2 := &models.ViolationRecord{
		SubscriberID: 2, Username: "bob", Score: 60,
		Countries:  `["DE","DE"]`,
		ASNTypes:   `["vpn"]`,
		DetectedAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.SaveViolation(v2))
	v3 := &models.ViolationRecord{
		SubscriberID: 3, Username: "carol", Score: 40,
		Countries:  "not-json",
		DetectedAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.SaveViolation(v3))

	byCountry, err := s.GetViolationsByCountry(now.Add(-24*time.Hour), now, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, byCountry["DE"], "duplicates within one record count once")
	assert.Equal(t, 1, byCountry["FR"])

	byType, err := s.GetViolationsByASNType(now.Add(-24*time.Hour), now, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, byType["vpn"])
	assert.Equal(t, 1, byType["residential"])
}

func TestGetViolationsByAction(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	for _, action := range []string{"restrict", "restrict", "monitor"} {
		v := &models.ViolationRecord{
			SubscriberID: 1, Username: "alice", Score: 50,
			RecommendedAction: action, DetectedAt: now.Add(-time.Hour),
		}
		require.NoError(t, s.SaveViolation(v))
	}

	byAction, err := s.GetViolationsByAction(now.Add(-24*time.Hour), now, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, byAction["restrict"])
	assert.Equal(t, 1, byAction["monitor"])
}

func TestUpdateViolationActionIdempotent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	v := seedViolation(t, s, 1, "alice", 85, now)

	require.NoError(t, s.UpdateViolationAction(v.ID, "suspended", "operator1"))

	var first models.ViolationRecord
	require.NoError(t, s.db.First(&first, v.ID).Error)
	require.NotNil(t, first.ActionTakenAt)
	firstStamp := *first.ActionTakenAt

	// Re-applying the same action leaves the timestamp alone
	require.NoError(t, s.UpdateViolationAction(v.ID, "suspended", "operator2"))

	var second models.ViolationRecord
	require.NoError(t, s.db.First(&second, v.ID).Error)
	assert.Equal(t, firstStamp, *second.ActionTakenAt)
	assert.Equal(t, "operator1", *second.ActionTakenBy)
}

func TestUpdateViolationActionUnknownID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.UpdateViolationAction(9999, "suspended", "op"))
}

func TestMarkViolationNotifiedOnce(t *testing.T) {
	s := newTestStore(t)
	v := seedViolation(t, s, 1, "alice", 85, time.Now().UTC())

	require.NoError(t, s.MarkViolationNotified(v.ID))

	var first models.ViolationRecord
	require.NoError(t, s.db.First(&first, v.ID).Error)
	require.NotNil(t, first.NotifiedAt)
	stamp := *first.NotifiedAt

	require.NoError(t, s.MarkViolationNotified(v.ID))

	var second models.ViolationRecord
	require.NoError(t, s.db.First(&second, v.ID).Error)
	assert.Equal(t, stamp, *second.NotifiedAt)
}

func TestGetUserViolationsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	seedViolation(t, s, 1, "alice", 40, now.Add(-2*time.Hour))
	seedViolation(t, s, 1, "alice", 80, now.Add(-time.Hour))
	seedViolation(t, s, 2, "bob", 90, now)
	seedViolation(t, s, 1, "alice", 70, now.AddDate(0, 0, -40))

	records, err := s.GetUserViolations(1, 30, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 80.0, records[0].Score)
}

func TestCleanupOldRecords(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	seedViolation(t, s, 1, "alice", 80, now.AddDate(0, 0, -100))
	seedViolation(t, s, 1, "alice", 80, now)

	deleted := s.CleanupOldRecords(90)
	assert.EqualValues(t, 1, deleted)

	var count int64
	s.db.Model(&models.ViolationRecord{}).Count(&count)
	assert.EqualValues(t, 1, count)
}
