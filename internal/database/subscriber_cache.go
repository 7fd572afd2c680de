package database

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

const (
	subscriberCachePrefix = "proxguard:subscriber:"
	subscriberCacheTTL    = 5 * time.Minute
)

// CachedSubscriber contains the subscriber fields the event ingest hot path
// needs, so connection events do not hit Postgres for every packet.
type CachedSubscriber struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	Status      string `json:"status"`
	DeviceLimit int    `json:"device_limit"`
}

// GetCachedSubscriber retrieves subscriber from cache or returns nil
func GetCachedSubscriber(username string) *CachedSubscriber {
	if Redis == nil {
		return nil
	}

	ctx := context.Background()
	key := subscriberCachePrefix + username

	data, err := Redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil // Cache miss
	}

	var sub CachedSubscriber
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil
	}

	return &sub
}

// SetCachedSubscriber stores subscriber in cache
func SetCachedSubscriber(sub *CachedSubscriber) {
	if Redis == nil || sub == nil {
		return
	}

	ctx := context.Background()
	key := subscriberCachePrefix + sub.Username

	data, err := json.Marshal(sub)
	if err != nil {
		log.Printf("Failed to marshal subscriber for cache: %v", err)
		return
	}

	Redis.Set(ctx, key, data, subscriberCacheTTL)
}

// InvalidateSubscriberCache removes subscriber from cache (call on update)
func InvalidateSubscriberCache(username string) {
	if Redis == nil {
		return
	}

	ctx := context.Background()
	key := subscriberCachePrefix + username
	Redis.Del(ctx, key)
}

// InvalidateSubscriberCacheByID removes subscriber from cache by ID
// This requires a lookup first, so use username version when possible
func InvalidateSubscriberCacheByID(id uint) {
	if DB == nil || Redis == nil {
		return
	}

	var username string
	DB.Raw("SELECT username FROM subscribers WHERE id = ?", id).Scan(&username)
	if username != "" {
		InvalidateSubscriberCache(username)
	}
}

// GetSubscriberCacheStats returns cache statistics
func GetSubscriberCacheStats() map[string]interface{} {
	stats := make(map[string]interface{})

	if Redis == nil {
		stats["status"] = "Redis not connected"
		return stats
	}

	ctx := context.Background()

	keys, _ := Redis.Keys(ctx, subscriberCachePrefix+"*").Result()
	stats["cached_subscribers"] = len(keys)
	stats["cache_ttl_seconds"] = int(subscriberCacheTTL.Seconds())
	stats["cache_prefix"] = subscriberCachePrefix

	return stats
}

// WarmupSubscriberCache pre-loads subscribers seen in the last day so the
// first burst of accounting traffic after a restart stays off Postgres.
func WarmupSubscriberCache() {
	if DB == nil || Redis == nil {
		return
	}

	log.Println("Warming up subscriber cache for recently seen users...")

	rows, err := DB.Raw(`
		SELECT id, username, status, device_limit
		FROM subscribers
		WHERE deleted_at IS NULL AND last_seen_at > NOW() - INTERVAL '24 hours'
		LIMIT 10000
	`).Rows()

	if err != nil {
		log.Printf("Failed to warmup subscriber cache: %v", err)
		return
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var sub CachedSubscriber
		if err := rows.Scan(&sub.ID, &sub.Username, &sub.Status, &sub.DeviceLimit); err != nil {
			continue
		}
		SetCachedSubscriber(&sub)
		count++
	}

	log.Printf("Subscriber cache warmup complete: %d subscribers cached", count)
}
