package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Cache key prefixes
	CacheKeyDetectionSettings = "proxguard:settings:detection"
	CacheKeyReportSettings    = "proxguard:settings:reports"
	CacheKeyGeoIPGate         = "proxguard:geoip:gate"
	CacheKeyViolationStats    = "proxguard:violations:stats:"

	// Cache TTLs
	CacheTTLSettings = 5 * time.Minute
	CacheTTLStats    = 1 * time.Minute
)

// CacheGet retrieves a value from Redis cache and unmarshals it into dest
func CacheGet(key string, dest interface{}) error {
	if Redis == nil {
		return redis.Nil
	}
	ctx := context.Background()
	data, err := Redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// CacheSet stores a value in Redis cache with TTL
func CacheSet(key string, value interface{}, ttl time.Duration) error {
	if Redis == nil {
		return nil
	}
	ctx := context.Background()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return Redis.Set(ctx, key, data, ttl).Err()
}

// CacheDelete removes a key from Redis cache
func CacheDelete(keys ...string) error {
	if Redis == nil || len(keys) == 0 {
		return nil
	}
	ctx := context.Background()
	return Redis.Del(ctx, keys...).Err()
}

// CacheDeletePattern deletes all keys matching a pattern (use with caution)
func CacheDeletePattern(pattern string) error {
	if Redis == nil {
		return nil
	}
	ctx := context.Background()
	iter := Redis.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return Redis.Del(ctx, keys...).Err()
	}
	return nil
}

// AcquireLease takes a short-lived exclusive lease shared across API
// instances. Returns true if this instance now holds the lease. Used to
// space out remote GeoIP provider calls cluster-wide.
func AcquireLease(key string, ttl time.Duration) bool {
	if Redis == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := Redis.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		// Redis being down must not block lookups entirely
		return true
	}
	return ok
}

// InvalidateSettingsCache clears cached settings rows
func InvalidateSettingsCache() {
	CacheDelete(CacheKeyDetectionSettings, CacheKeyReportSettings)
}

// InvalidateStatsCache clears cached violation statistics
func InvalidateStatsCache() {
	CacheDeletePattern(CacheKeyViolationStats + "*")
}
