package geoip

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/proxguard/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeProvider struct {
	calls int
	meta  map[string]*models.IPMetadata
}

func (f *fakeProvider) Fetch(ctx context.Context, ip string) (*models.IPMetadata, error) {
	f.calls++
	if meta, ok := f.meta[ip]; ok {
		copy := *meta
		return &copy, nil
	}
	return nil, assert.AnError
}

func newResolverDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.IPMetadata{}, &models.ASNOverride{}, &models.ClassifierRule{},
	))
	return db
}

func newTestResolver(t *testing.T, db *gorm.DB, provider *fakeProvider) *Resolver {
	gate := NewGate(time.Millisecond, nil)
	return NewResolver(db, NewClassifier(db), nil, provider, gate)
}

func TestLookupPrivateRange(t *testing.T) {
	provider := &fakeProvider{}
	r := newTestResolver(t, newResolverDB(t), provider)

	for _, ip := range []string{"10.0.0.1", "192.168.1.50", "127.0.0.1", "169.254.0.9"} {
		meta, err := r.Lookup(context.Background(), ip)
		require.NoError(t, err)
		require.NotNil(t, meta)
		assert.Equal(t, "Private Network", meta.Country)
	}
	assert.Zero(t, provider.calls, "private addresses never reach the provider")
}

func TestLookupInvalidIP(t *testing.T) {
	r := newTestResolver(t, newResolverDB(t), &fakeProvider{})
	_, err := r.Lookup(context.Background(), "not-an-ip")
	assert.Error(t, err)
}

func TestLookupProviderHitIsCachedAndPersisted(t *testing.T) {
	db := newResolverDB(t)
	provider := &fakeProvider{meta: map[string]*models.IPMetadata{
		"203.0.113.10": {
			IPAddress: "203.0.113.10", CountryCode: "DE", Country: "Germany",
			ASN: 3320, ASNOrg: "Deutsche Telekom AG",
		},
	}}
	r := newTestResolver(t, db, provider)

	meta, err := r.Lookup(context.Background(), "203.0.113.10")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "DE", meta.CountryCode)
	assert.Equal(t, models.ConnectionTypeResidential, meta.ConnectionType)
	assert.Equal(t, 1, provider.calls)

	// Second lookup is served by the in-process cache
	_, err = r.Lookup(context.Background(), "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls, "single provider call within the cache TTL")

	var row models.IPMetadata
	require.NoError(t, db.Where("ip_address = ?", "203.0.113.10").First(&row).Error)
	assert.Equal(t, "DE", row.CountryCode)
	assert.False(t, row.LastCheckedAt.IsZero())
}

func TestLookupServedFromFreshStore(t *testing.T) {
	db := newResolverDB(t)
	require.NoError(t, db.Create(&models.IPMetadata{
		IPAddress: "203.0.113.20", CountryCode: "FR",
		ConnectionType: models.ConnectionTypeResidential,
		LastCheckedAt:  time.Now().UTC().Add(-time.Hour),
	}).Error)
	provider := &fakeProvider{}
	r := newTestResolver(t, db, provider)

	meta, err := r.Lookup(context.Background(), "203.0.113.20")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "FR", meta.CountryCode)
	assert.Zero(t, provider.calls)
}

func TestLookupStaleStoreFallsThrough(t *testing.T) {
	db := newResolverDB(t)
	require.NoError(t, db.Create(&models.IPMetadata{
		IPAddress: "203.0.113.30", CountryCode: "FR",
		LastCheckedAt: time.Now().UTC().Add(-40 * 24 * time.Hour),
	}).Error)
	provider := &fakeProvider{meta: map[string]*models.IPMetadata{
		"203.0.113.30": {IPAddress: "203.0.113.30", CountryCode: "ES", Country: "Spain"},
	}}
	r := newTestResolver(t, db, provider)

	meta, err := r.Lookup(context.Background(), "203.0.113.30")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "ES", meta.CountryCode)
	assert.Equal(t, 1, provider.calls)

	// Refresh must update the existing row, not duplicate it
	var count int64
	db.Model(&models.IPMetadata{}).Where("ip_address = ?", "203.0.113.30").Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestLookupTotalMissReturnsNilNoError(t *testing.T) {
	r := newTestResolver(t, newResolverDB(t), &fakeProvider{})
	meta, err := r.Lookup(context.Background(), "203.0.113.99")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestLookupBatchSingleStoreQuery(t *testing.T) {
	db := newResolverDB(t)
	now := time.Now().UTC()
	require.NoError(t, db.Create(&models.IPMetadata{
		IPAddress: "203.0.113.40", CountryCode: "DE", LastCheckedAt: now,
	}).Error)
	require.NoError(t, db.Create(&models.IPMetadata{
		IPAddress: "203.0.113.41", CountryCode: "NL", LastCheckedAt: now,
	}).Error)
	provider := &fakeProvider{meta: map[string]*models.IPMetadata{
		"203.0.113.42": {IPAddress: "203.0.113.42", CountryCode: "US"},
	}}
	r := newTestResolver(t, db, provider)

	results := r.LookupBatch(context.Background(), []string{
		"203.0.113.40", "203.0.113.41", "203.0.113.42", "10.0.0.1", "bogus",
	})

	assert.Len(t, results, 4, "invalid entries are skipped")
	assert.Equal(t, "DE", results["203.0.113.40"].CountryCode)
	assert.Equal(t, "NL", results["203.0.113.41"].CountryCode)
	assert.Equal(t, "US", results["203.0.113.42"].CountryCode)
	assert.Equal(t, "Private Network", results["10.0.0.1"].Country)
	assert.Equal(t, 1, provider.calls, "only the store miss reaches the provider")

	// Everything resolved is now in the in-process cache
	results = r.LookupBatch(context.Background(), []string{"203.0.113.40", "203.0.113.42"})
	assert.Len(t, results, 2)
	assert.Equal(t, 1, provider.calls)
}

func TestGateEnforcesSpacing(t *testing.T) {
	gate := NewGate(50*time.Millisecond, nil)

	start := time.Now()
	require.NoError(t, gate.Wait(context.Background()))
	require.NoError(t, gate.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGateHonorsContextCancel(t *testing.T) {
	gate := NewGate(time.Hour, nil)
	require.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, gate.Wait(ctx))
}
