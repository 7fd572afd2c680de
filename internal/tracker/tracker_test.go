package tracker

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

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ConnectionRecord{}))
	return db
}

func TestRecordConnectionCreatesOpenRecord(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	id, err := tr.RecordConnection(1, "alice", "203.0.113.10", "relay-fr-1", "", now)
	require.NoError(t, err)
	assert.NotZero(t, id)

	count, err := tr.GetSimultaneousConnections(1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordConnectionUpsertsWithinGrace(t *testing.T) {
	db := newTestDB(t)
	tr := New(db)

	now := time.Now().UTC()
	id1, err := tr.RecordConnection(1, "alice", "203.0.113.10", "relay-fr-1", "", now.Add(-time.Minute))
	require.NoError(t, err)
	id2, err := tr.RecordConnection(1, "alice", "203.0.113.10", "relay-fr-2", "", now)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var record models.ConnectionRecord
	require.NoError(t, db.First(&record, id1).Error)
	assert.Equal(t, "relay-fr-2", record.RelayID)
	assert.WithinDuration(t, now, record.ConnectedAt, time.Second)
}

func TestConnectedAtIsMonotonic(t *testing.T) {
	db := newTestDB(t)
	tr := New(db)

	now := time.Now().UTC()
	id, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now)
	require.NoError(t, err)

	// Out-of-order event must not move connected_at backwards
	_, err = tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now.Add(-10*time.Minute))
	require.NoError(t, err)

	var record models.ConnectionRecord
	require.NoError(t, db.First(&record, id).Error)
	assert.WithinDuration(t, now, record.ConnectedAt, time.Second)
}

func TestIPSwitchClosesOldConnection(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	_, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now.Add(-10*time.Minute))
	require.NoError(t, err)
	_, err = tr.RecordConnection(1, "alice", "198.51.100.5", "", "", now)
	require.NoError(t, err)

	count, err := tr.GetSimultaneousConnections(1)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "old IP should be closed after grace period")
}

func TestIPSwitchKeepsRecentOverlap(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	_, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = tr.RecordConnection(1, "alice", "198.51.100.5", "", "", now)
	require.NoError(t, err)

	count, err := tr.GetSimultaneousConnections(1)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "overlap within grace window stays open")
}

func TestReconciliationIsPerSubscriber(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	_, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now.Add(-10*time.Minute))
	require.NoError(t, err)
	_, err = tr.RecordConnection(2, "bob", "198.51.100.5", "", "", now)
	require.NoError(t, err)

	count, err := tr.GetSimultaneousConnections(1)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "another subscriber's event must not close alice's record")
}

func TestCloseConnection(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	_, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now)
	require.NoError(t, err)

	require.NoError(t, tr.CloseConnection(1, "203.0.113.10", now.Add(time.Minute)))
	// Second close is a no-op
	require.NoError(t, tr.CloseConnection(1, "203.0.113.10", now.Add(2*time.Minute)))

	count, err := tr.GetSimultaneousConnections(1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestActiveDivergesFromSimultaneous(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	// Long-lived tunnel: open but last event 30 minutes ago
	_, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now.Add(-30*time.Minute))
	require.NoError(t, err)

	active, err := tr.GetActiveConnections(1, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, active, "stale open record is not active")

	simultaneous, err := tr.GetSimultaneousConnections(1)
	require.NoError(t, err)
	assert.Equal(t, 1, simultaneous, "stale open record still counts as simultaneous")
}

func TestGetUniqueIPsInWindowIncludesClosed(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	_, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now.Add(-20*time.Minute))
	require.NoError(t, err)
	require.NoError(t, tr.CloseConnection(1, "203.0.113.10", now.Add(-15*time.Minute)))
	_, err = tr.RecordConnection(1, "alice", "198.51.100.5", "", "", now)
	require.NoError(t, err)
	// Same IP twice must not double-count
	_, err = tr.RecordConnection(1, "alice", "198.51.100.5", "", "", now)
	require.NoError(t, err)

	ips, err := tr.GetUniqueIPsInWindow(1, 60)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"203.0.113.10", "198.51.100.5"}, ips)

	ips, err = tr.GetUniqueIPsInWindow(1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.5"}, ips)
}

func TestGetConnectionHistory(t *testing.T) {
	tr := New(newTestDB(t))

	now := time.Now().UTC()
	_, err := tr.RecordConnection(1, "alice", "203.0.113.10", "", "", now.AddDate(0, 0, -10))
	require.NoError(t, err)
	_, err = tr.RecordConnection(1, "alice", "198.51.100.5", "", "", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = tr.RecordConnection(1, "alice", "192.0.2.7", "", "", now)
	require.NoError(t, err)

	history, err := tr.GetConnectionHistory(1, 7, 100)
	require.NoError(t, err)
	require.Len(t, history, 2, "10-day-old record falls outside the window")
	assert.Equal(t, "192.0.2.7", history[0].IPAddress, "newest first")

	history, err = tr.GetConnectionHistory(1, 7, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecordConnectionRejectsEmptyIP(t *testing.T) {
	tr := New(newTestDB(t))
	_, err := tr.RecordConnection(1, "alice", "", "", "", time.Time{})
	assert.Error(t, err)
}
