package geoip

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/proxguard/backend/internal/models"
	"gorm.io/gorm"
)

const (
	// memoryCacheTTL bounds the in-process cache.
	memoryCacheTTL = 24 * time.Hour
	// storeFreshness is how long a persisted ip_metadata row is trusted
	// before the lookup falls through to MMDB or the remote provider.
	storeFreshness = 30 * 24 * time.Hour
)

// remoteSource is the provider tier, satisfied by RemoteProvider.
type remoteSource interface {
	Fetch(ctx context.Context, ip string) (*models.IPMetadata, error)
}

type cacheEntry struct {
	meta models.IPMetadata
	at   time.Time
}

// Resolver resolves IP metadata through a tiered cascade: private-range
// sentinel, in-process cache, persisted store, local MMDB, remote provider.
// Every tier failure logs and degrades to the next tier; a miss on the last
// tier returns nil without error.
type Resolver struct {
	db         *gorm.DB
	classifier *Classifier
	mmdb       *MMDBSource
	provider   remoteSource
	gate       *Gate

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewResolver(db *gorm.DB, classifier *Classifier, mmdb *MMDBSource, provider remoteSource, gate *Gate) *Resolver {
	return &Resolver{
		db:         db,
		classifier: classifier,
		mmdb:       mmdb,
		provider:   provider,
		gate:       gate,
		cache:      make(map[string]cacheEntry),
	}
}

// Lookup resolves one IP. Returns (nil, nil) when no tier could resolve it.
func (r *Resolver) Lookup(ctx context.Context, ip string) (*models.IPMetadata, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid ip address: %s", ip)
	}

	if isPrivate(parsed) {
		return privateMetadata(ip), nil
	}

	if meta := r.cacheGet(ip); meta != nil {
		return meta, nil
	}

	if meta := r.storeGet(ip); meta != nil {
		r.cachePut(*meta)
		return meta, nil
	}

	return r.resolveFresh(ctx, ip)
}

// LookupBatch resolves many IPs with one store round trip for everything
// the in-process cache missed. Leftovers fall through the MMDB and provider
// tiers one at a time.
func (r *Resolver) LookupBatch(ctx context.Context, ips []string) map[string]*models.IPMetadata {
	results := make(map[string]*models.IPMetadata, len(ips))
	seen := make(map[string]bool, len(ips))
	var uncached []string

	for _, ip := range ips {
		if seen[ip] {
			continue
		}
		seen[ip] = true
		parsed := net.ParseIP(ip)
		if parsed == nil {
			continue
		}
		if isPrivate(parsed) {
			results[ip] = privateMetadata(ip)
			continue
		}
		if meta := r.cacheGet(ip); meta != nil {
			results[ip] = meta
			continue
		}
		uncached = append(uncached, ip)
	}

	if len(uncached) > 0 {
		cutoff := time.Now().UTC().Add(-storeFreshness)
		var rows []models.IPMetadata
		err := r.db.Where("ip_address IN ? AND last_checked_at > ?", uncached, cutoff).
			Find(&rows).Error
		if err != nil {
			log.Printf("[GeoIP] Batched store lookup failed: %v", err)
		}
		found := make(map[string]bool, len(rows))
		for i := range rows {
			meta := rows[i]
			r.cachePut(meta)
			results[meta.IPAddress] = &meta
			found[meta.IPAddress] = true
		}

		for _, ip := range uncached {
			if found[ip] {
				continue
			}
			meta, err := r.resolveFresh(ctx, ip)
			if err != nil || meta == nil {
				continue
			}
			results[ip] = meta
		}
	}

	return results
}

// resolveFresh runs the MMDB and provider tiers, then classifies, persists
// and caches whatever resolved.
func (r *Resolver) resolveFresh(ctx context.Context, ip string) (*models.IPMetadata, error) {
	meta := r.mmdbGet(ip)

	if meta == nil && r.provider != nil {
		if err := r.gate.Wait(ctx); err != nil {
			return nil, err
		}
		fetched, err := r.provider.Fetch(ctx, ip)
		if err != nil {
			log.Printf("[GeoIP] Provider lookup failed for %s: %v", ip, err)
		} else {
			meta = fetched
		}
	}

	if meta == nil {
		return nil, nil
	}

	r.classifier.Classify(meta)
	meta.LastCheckedAt = time.Now().UTC()

	r.persist(meta)
	r.cachePut(*meta)
	return meta, nil
}

func (r *Resolver) mmdbGet(ip string) *models.IPMetadata {
	if r.mmdb == nil {
		return nil
	}
	meta, err := r.mmdb.Lookup(ip)
	if err != nil {
		log.Printf("[GeoIP] MMDB lookup failed for %s: %v", ip, err)
		return nil
	}
	return meta
}

// storeGet returns the persisted row when fresh enough, nil otherwise.
func (r *Resolver) storeGet(ip string) *models.IPMetadata {
	cutoff := time.Now().UTC().Add(-storeFreshness)
	var meta models.IPMetadata
	err := r.db.Where("ip_address = ? AND last_checked_at > ?", ip, cutoff).
		First(&meta).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			log.Printf("[GeoIP] Store lookup failed for %s: %v", ip, err)
		}
		return nil
	}
	return &meta
}

// persist upserts the row keyed by ip_address.
func (r *Resolver) persist(meta *models.IPMetadata) {
	var existing models.IPMetadata
	err := r.db.Where("ip_address = ?", meta.IPAddress).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := r.db.Create(meta).Error; err != nil {
			log.Printf("[GeoIP] Failed to persist metadata for %s: %v", meta.IPAddress, err)
		}
		return
	}
	if err != nil {
		log.Printf("[GeoIP] Persist lookup failed for %s: %v", meta.IPAddress, err)
		return
	}

	meta.ID = existing.ID
	meta.CreatedAt = existing.CreatedAt
	if err := r.db.Save(meta).Error; err != nil {
		log.Printf("[GeoIP] Failed to refresh metadata for %s: %v", meta.IPAddress, err)
	}
}

func (r *Resolver) cacheGet(ip string) *models.IPMetadata {
	r.mu.RLock()
	entry, ok := r.cache[ip]
	r.mu.RUnlock()
	if !ok || time.Since(entry.at) > memoryCacheTTL {
		return nil
	}
	meta := entry.meta
	return &meta
}

func (r *Resolver) cachePut(meta models.IPMetadata) {
	r.mu.Lock()
	r.cache[meta.IPAddress] = cacheEntry{meta: meta, at: time.Now()}
	r.mu.Unlock()
}

func isPrivate(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// privateMetadata is the sentinel for RFC1918, loopback and link-local
// addresses. Never persisted and never sent to the provider.
func privateMetadata(ip string) *models.IPMetadata {
	return &models.IPMetadata{
		IPAddress:      ip,
		Country:        "Private Network",
		ConnectionType: models.ConnectionTypeResidential,
	}
}
