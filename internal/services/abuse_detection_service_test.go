package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/proxguard/backend/internal/geoip"
	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/tracker"
	"github.com/proxguard/backend/internal/violations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDetectionDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Subscriber{}, &models.ConnectionRecord{},
		&models.IPMetadata{}, &models.ASNOverride{}, &models.ClassifierRule{},
		&models.ViolationRecord{}, &models.DetectionSetting{}, &models.SyncStatus{},
	))
	return db
}

func newDetectionService(db *gorm.DB) *AbuseDetectionService {
	resolver := geoip.NewResolver(db, geoip.NewClassifier(db), nil, nil,
		geoip.NewGate(time.Millisecond, nil))
	return NewAbuseDetectionService(db, tracker.New(db), resolver, violations.NewStore(db), nil)
}

func TestActionForScore(t *testing.T) {
	assert.Equal(t, models.ActionRestrict, actionForScore(80))
	assert.Equal(t, models.ActionRestrict, actionForScore(100))
	assert.Equal(t, models.ActionInvestigate, actionForScore(79.9))
	assert.Equal(t, models.ActionInvestigate, actionForScore(50))
	assert.Equal(t, models.ActionMonitor, actionForScore(49.9))
	assert.Equal(t, models.ActionMonitor, actionForScore(30))
	assert.Equal(t, models.ActionNone, actionForScore(29.9))
}

func TestHaversineKm(t *testing.T) {
	// Paris to New York is roughly 5837 km
	dist := haversineKm(48.8566, 2.3522, 40.7128, -74.0060)
	assert.InDelta(t, 5837, dist, 50)

	assert.InDelta(t, 0, haversineKm(48.8566, 2.3522, 48.8566, 2.3522), 0.001)
}

func TestDetectImpossibleTravel(t *testing.T) {
	now := time.Now().UTC()
	history := []models.ConnectionRecord{
		{IPAddress: "203.0.113.1", ConnectedAt: now.Add(-time.Hour)},
		{IPAddress: "203.0.113.2", ConnectedAt: now},
	}

	// Paris then New York one hour later: ~5837 km/h
	metas := map[string]*models.IPMetadata{
		"203.0.113.1": {Latitude: 48.8566, Longitude: 2.3522},
		"203.0.113.2": {Latitude: 40.7128, Longitude: -74.0060},
	}
	assert.True(t, detectImpossibleTravel(history, metas))

	// Paris then Lyon one hour later: ~390 km/h, plausible
	metas["203.0.113.2"] = &models.IPMetadata{Latitude: 45.7640, Longitude: 4.8357}
	assert.False(t, detectImpossibleTravel(history, metas))

	// Missing coordinates never trigger
	assert.False(t, detectImpossibleTravel(history, map[string]*models.IPMetadata{}))
}

func TestScoreTemporalCaps(t *testing.T) {
	var reasons []string
	assert.Equal(t, 35.0, scoreTemporal(10, 12, 3, &reasons), "capped at 35")
	reasons = nil
	assert.Equal(t, 8.0, scoreTemporal(2, 1, 3, &reasons), "within limit scores low")
	reasons = nil
	assert.Equal(t, 20.0, scoreTemporal(4, 2, 3, &reasons))
}

func TestScoreGeo(t *testing.T) {
	var reasons []string
	assert.Equal(t, 0.0, scoreGeo(1, false, &reasons))
	assert.Equal(t, 15.0, scoreGeo(2, false, &reasons))
	assert.Equal(t, 25.0, scoreGeo(3, false, &reasons))
	assert.Equal(t, 30.0, scoreGeo(4, true, &reasons), "capped at 30")
}

func TestScoreASNPrecedence(t *testing.T) {
	var reasons []string
	assert.Equal(t, 25.0, scoreASN(true, true, false, 1, &reasons), "vpn beats datacenter")
	assert.Equal(t, 20.0, scoreASN(false, true, false, 1, &reasons))
	assert.Equal(t, 5.0, scoreASN(false, false, true, 2, &reasons))
	assert.Equal(t, 0.0, scoreASN(false, false, true, 1, &reasons), "single-country mobile is normal")
}

func TestParseDeviceInfo(t *testing.T) {
	history := []models.ConnectionRecord{
		{DeviceInfo: `{"os":"iOS","client":"app-v2"}`},
		{DeviceInfo: `{"os":"Windows","client":"app-v2"}`},
		{DeviceInfo: `{"os":"iOS"}`},
		{DeviceInfo: "garbage"},
		{DeviceInfo: ""},
	}
	osSet, clientSet := parseDeviceInfo(history)
	assert.Equal(t, 2, osSet.len())
	assert.Equal(t, 1, clientSet.len())
}

func TestManualScanSavesViolation(t *testing.T) {
	db := newDetectionDB(t)
	now := time.Now().UTC()

	require.NoError(t, db.Create(&models.Subscriber{
		Username: "alice", FullName: "Alice A", Status: models.SubscriberStatusActive,
		DeviceLimit: 2,
	}).Error)
	var sub models.Subscriber
	require.NoError(t, db.Where("username = ?", "alice").First(&sub).Error)

	// Five IPs in the window across three countries, one of them a VPN exit
	ips := []struct {
		ip, country, ctype string
	}{
		{"203.0.113.1", "Germany", models.ConnectionTypeResidential},
		{"203.0.113.2", "Germany", models.ConnectionTypeResidential},
		{"198.51.100.1", "France", models.ConnectionTypeVPN},
		{"198.51.100.2", "France", models.ConnectionTypeResidential},
		{"192.0.2.1", "Spain", models.ConnectionTypeResidential},
	}
	tr := tracker.New(db)
	for i, e := range ips {
		require.NoError(t, db.Create(&models.IPMetadata{
			IPAddress: e.ip, Country: e.country, ConnectionType: e.ctype,
			IsVPN:         e.ctype == models.ConnectionTypeVPN,
			LastCheckedAt: now,
		}).Error)
		_, err := tr.RecordConnection(sub.ID, "alice", e.ip, "", "", now.Add(-time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	require.NoError(t, db.Create(&models.DetectionSetting{
		Enabled: true, ScanIntervalMinutes: 5, WindowMinutes: 60,
		MinScore: 30, RetentionDays: 90,
	}).Error)

	svc := newDetectionService(db)
	saved, err := svc.RunManualScan()
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	var violation models.ViolationRecord
	require.NoError(t, db.Where("subscriber_id = ?", sub.ID).First(&violation).Error)
	assert.GreaterOrEqual(t, violation.Score, 50.0)
	assert.True(t, violation.IsVPN)
	assert.Equal(t, 5, violation.UniqueIPCount)
	assert.Contains(t, violation.Countries, "Germany")
	assert.NotEqual(t, models.ActionNone, violation.RecommendedAction)
	assert.NotNil(t, violation.Confidence)
}

func TestManualScanSkipsSingleIPSubscribers(t *testing.T) {
	db := newDetectionDB(t)
	now := time.Now().UTC()

	require.NoError(t, db.Create(&models.Subscriber{
		Username: "bob", Status: models.SubscriberStatusActive, DeviceLimit: 3,
	}).Error)
	var sub models.Subscriber
	require.NoError(t, db.Where("username = ?", "bob").First(&sub).Error)

	tr := tracker.New(db)
	_, err := tr.RecordConnection(sub.ID, "bob", "203.0.113.9", "", "", now)
	require.NoError(t, err)

	svc := newDetectionService(db)
	saved, err := svc.RunManualScan()
	require.NoError(t, err)
	assert.Zero(t, saved)
}
