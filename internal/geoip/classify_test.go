package geoip

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/proxguard/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newClassifierDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ASNOverride{}, &models.ClassifierRule{}))
	return db
}

func seedDefaultRules(t *testing.T, db *gorm.DB) {
	for _, rule := range DefaultRules() {
		require.NoError(t, db.Create(&rule).Error)
	}
}

func TestClassifyKeywordRules(t *testing.T) {
	db := newClassifierDB(t)
	seedDefaultRules(t, db)
	c := NewClassifier(db)

	cases := []struct {
		org      string
		expected string
	}{
		{"NordVPN S.A.", models.ConnectionTypeVPN},
		{"Vodafone GmbH", models.ConnectionTypeMobile},
		{"Hetzner Online GmbH", models.ConnectionTypeDatacenter},
		{"Deutsche Telekom AG", models.ConnectionTypeResidential},
	}

	for _, tc := range cases {
		meta := &models.IPMetadata{ASNOrg: tc.org}
		c.Classify(meta)
		assert.Equal(t, tc.expected, meta.ConnectionType, "org %q", tc.org)
	}
}

func TestClassifyVPNRunsBeforeDatacenter(t *testing.T) {
	db := newClassifierDB(t)
	seedDefaultRules(t, db)
	c := NewClassifier(db)

	// Org matches both a vpn and a datacenter pattern; the vpn group has
	// lower priority numbers so it must win.
	meta := &models.IPMetadata{ASNOrg: "ExpressVPN Hosting Ltd"}
	c.Classify(meta)
	assert.Equal(t, models.ConnectionTypeVPN, meta.ConnectionType)
	assert.True(t, meta.IsVPN)
}

func TestClassifyOverrideBeatsKeywords(t *testing.T) {
	db := newClassifierDB(t)
	seedDefaultRules(t, db)
	require.NoError(t, db.Create(&models.ASNOverride{
		ASN:          64512,
		Organization: "Regional Mobile Carrier",
		ProviderType: models.ConnectionTypeMobile,
		IsActive:     true,
	}).Error)
	c := NewClassifier(db)

	meta := &models.IPMetadata{ASN: 64512, ASNOrg: "Some Hosting Company"}
	c.Classify(meta)
	assert.Equal(t, models.ConnectionTypeMobile, meta.ConnectionType)
	assert.Equal(t, "Regional Mobile Carrier", meta.ASNOrg)
}

func TestClassifyCountryScopedOverride(t *testing.T) {
	db := newClassifierDB(t)
	require.NoError(t, db.Create(&models.ASNOverride{
		ASN:          64512,
		ProviderType: models.ConnectionTypeMobile,
		CountryCode:  "DE",
		IsActive:     true,
	}).Error)
	require.NoError(t, db.Create(&models.ASNOverride{
		ASN:          64512,
		ProviderType: models.ConnectionTypeDatacenter,
		CountryCode:  "",
		IsActive:     true,
	}).Error)
	c := NewClassifier(db)

	inScope := &models.IPMetadata{ASN: 64512, CountryCode: "DE"}
	c.Classify(inScope)
	assert.Equal(t, models.ConnectionTypeMobile, inScope.ConnectionType)

	outOfScope := &models.IPMetadata{ASN: 64512, CountryCode: "FR"}
	c.Classify(outOfScope)
	assert.Equal(t, models.ConnectionTypeDatacenter, outOfScope.ConnectionType,
		"global entry applies outside the scoped country")
}

func TestClassifyInactiveOverrideIgnored(t *testing.T) {
	db := newClassifierDB(t)
	require.NoError(t, db.Create(&models.ASNOverride{
		ASN:          64512,
		ProviderType: models.ConnectionTypeVPN,
		IsActive:     false,
	}).Error)
	c := NewClassifier(db)

	meta := &models.IPMetadata{ASN: 64512, ASNOrg: "Plain ISP"}
	c.Classify(meta)
	assert.Equal(t, models.ConnectionTypeResidential, meta.ConnectionType)
}

func TestClassifyProviderFlagsFallback(t *testing.T) {
	c := NewClassifier(newClassifierDB(t))

	hosting := &models.IPMetadata{ASNOrg: "Unmatched Org", IsHosting: true}
	c.Classify(hosting)
	assert.Equal(t, models.ConnectionTypeDatacenter, hosting.ConnectionType)

	mobile := &models.IPMetadata{ASNOrg: "Unmatched Org", IsMobile: true}
	c.Classify(mobile)
	assert.Equal(t, models.ConnectionTypeMobile, mobile.ConnectionType)
}

func TestParseASField(t *testing.T) {
	asn, org := parseASField("AS13335 Cloudflare, Inc.")
	assert.Equal(t, 13335, asn)
	assert.Equal(t, "Cloudflare, Inc.", org)

	asn, org = parseASField("")
	assert.Equal(t, 0, asn)
	assert.Equal(t, "", org)

	asn, org = parseASField("AS701")
	assert.Equal(t, 701, asn)
	assert.Equal(t, "", org)
}
