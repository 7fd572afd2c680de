package database

import (
	"context"
	"time"
)

const tokenBlacklistPrefix = "proxguard:token:blacklist:"

// BlacklistToken marks a token as revoked until its natural expiry.
func BlacklistToken(token string, ttl time.Duration) error {
	if Redis == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	ctx := context.Background()
	return Redis.Set(ctx, tokenBlacklistPrefix+token, "1", ttl).Err()
}

// IsTokenBlacklisted reports whether a token was revoked via logout.
func IsTokenBlacklisted(token string) bool {
	if Redis == nil {
		return false
	}
	ctx := context.Background()
	n, err := Redis.Exists(ctx, tokenBlacklistPrefix+token).Result()
	if err != nil {
		return false
	}
	return n > 0
}
