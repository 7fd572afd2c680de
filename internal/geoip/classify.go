package geoip

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/proxguard/backend/internal/models"
	"gorm.io/gorm"
)

const classifierReloadInterval = 5 * time.Minute

// Classifier assigns a connection type to resolved metadata. The ASN
// override registry wins outright; otherwise ordered keyword rules run
// against the ASN organization name, then provider flags, then residential.
type Classifier struct {
	db *gorm.DB

	mu        sync.RWMutex
	overrides map[int][]models.ASNOverride
	rules     []models.ClassifierRule
	loadedAt  time.Time
}

func NewClassifier(db *gorm.DB) *Classifier {
	return &Classifier{
		db:        db,
		overrides: make(map[int][]models.ASNOverride),
	}
}

// DefaultRules seeds the keyword rulesets. Priorities group the categories:
// vpn patterns run before mobile, mobile before datacenter.
func DefaultRules() []models.ClassifierRule {
	type seed struct {
		pattern  string
		category string
		priority int
	}
	seeds := []seed{
		{"vpn", models.ConnectionTypeVPN, 10},
		{"nordvpn", models.ConnectionTypeVPN, 10},
		{"expressvpn", models.ConnectionTypeVPN, 10},
		{"mullvad", models.ConnectionTypeVPN, 10},
		{"proton", models.ConnectionTypeVPN, 10},
		{"surfshark", models.ConnectionTypeVPN, 10},
		{"private internet access", models.ConnectionTypeVPN, 10},
		{"mobile", models.ConnectionTypeMobile, 20},
		{"cellular", models.ConnectionTypeMobile, 20},
		{"wireless", models.ConnectionTypeMobile, 20},
		{"vodafone", models.ConnectionTypeMobile, 20},
		{"t-mobile", models.ConnectionTypeMobile, 20},
		{"orange", models.ConnectionTypeMobile, 20},
		{"telefonica", models.ConnectionTypeMobile, 20},
		{"amazon", models.ConnectionTypeDatacenter, 30},
		{"google cloud", models.ConnectionTypeDatacenter, 30},
		{"microsoft azure", models.ConnectionTypeDatacenter, 30},
		{"digitalocean", models.ConnectionTypeDatacenter, 30},
		{"hetzner", models.ConnectionTypeDatacenter, 30},
		{"ovh", models.ConnectionTypeDatacenter, 30},
		{"linode", models.ConnectionTypeDatacenter, 30},
		{"vultr", models.ConnectionTypeDatacenter, 30},
		{"hosting", models.ConnectionTypeDatacenter, 30},
		{"datacenter", models.ConnectionTypeDatacenter, 30},
		{"colocation", models.ConnectionTypeDatacenter, 30},
	}

	rules := make([]models.ClassifierRule, 0, len(seeds))
	for _, s := range seeds {
		rules = append(rules, models.ClassifierRule{
			Pattern:  s.pattern,
			Category: s.category,
			Priority: s.priority,
			IsActive: true,
		})
	}
	return rules
}

// reload refreshes overrides and rules from the database when stale.
func (c *Classifier) reload() {
	c.mu.RLock()
	fresh := time.Since(c.loadedAt) < classifierReloadInterval
	c.mu.RUnlock()
	if fresh {
		return
	}

	var overrides []models.ASNOverride
	if err := c.db.Where("is_active = ?", true).Find(&overrides).Error; err != nil {
		log.Printf("[GeoIP] Failed to load ASN overrides: %v", err)
		return
	}

	var rules []models.ClassifierRule
	if err := c.db.Where("is_active = ?", true).
		Order("priority ASC, id ASC").Find(&rules).Error; err != nil {
		log.Printf("[GeoIP] Failed to load classifier rules: %v", err)
		return
	}

	byASN := make(map[int][]models.ASNOverride)
	for _, o := range overrides {
		byASN[o.ASN] = append(byASN[o.ASN], o)
	}

	c.mu.Lock()
	c.overrides = byASN
	c.rules = rules
	c.loadedAt = time.Now()
	c.mu.Unlock()
}

// Invalidate forces a reload on the next classification. Called by the
// override and rule CRUD handlers.
func (c *Classifier) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

// Classify sets ConnectionType and the matching flag on meta.
// Order: country-scoped ASN override, keyword rules, provider flags,
// residential fallback.
func (c *Classifier) Classify(meta *models.IPMetadata) {
	c.reload()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if meta.ASN > 0 {
		var global *models.ASNOverride
		for i := range c.overrides[meta.ASN] {
			o := &c.overrides[meta.ASN][i]
			if o.CountryCode == "" {
				global = o
				continue
			}
			if strings.EqualFold(o.CountryCode, meta.CountryCode) {
				c.applyOverride(meta, o)
				return
			}
		}
		if global != nil {
			c.applyOverride(meta, global)
			return
		}
	}

	org := strings.ToLower(meta.ASNOrg)
	if org != "" {
		for i := range c.rules {
			if strings.Contains(org, strings.ToLower(c.rules[i].Pattern)) {
				setType(meta, c.rules[i].Category)
				return
			}
		}
	}

	switch {
	case meta.IsHosting:
		setType(meta, models.ConnectionTypeDatacenter)
	case meta.IsMobile:
		setType(meta, models.ConnectionTypeMobile)
	default:
		meta.ConnectionType = models.ConnectionTypeResidential
	}
}

func (c *Classifier) applyOverride(meta *models.IPMetadata, o *models.ASNOverride) {
	setType(meta, o.ProviderType)
	if o.Organization != "" {
		meta.ASNOrg = o.Organization
	}
	if o.Region != "" {
		meta.Region = o.Region
	}
	if o.City != "" {
		meta.City = o.City
	}
}

func setType(meta *models.IPMetadata, category string) {
	meta.ConnectionType = category
	switch category {
	case models.ConnectionTypeVPN:
		meta.IsVPN = true
	case models.ConnectionTypeDatacenter:
		meta.IsHosting = true
	case models.ConnectionTypeMobile:
		meta.IsMobile = true
	}
}
