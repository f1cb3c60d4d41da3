package domain

import (
	"context"
	"time"
)

// ListingCache stores active listings per token with an explicit TTL.
// Entries are invalidated when a list or cancel workflow settles so the next
// read reflects the new marketplace state.
type ListingCache interface {
	Set(ctx context.Context, token string, listings []Listing) error
	Get(ctx context.Context, token string) ([]Listing, error)
	Invalidate(ctx context.Context, token string) error
}

// PortfolioCache stores a wallet's NFT holdings between refreshes.
type PortfolioCache interface {
	Set(ctx context.Context, wallet string, nfts []NFT) error
	Get(ctx context.Context, wallet string) ([]NFT, error)
	Invalidate(ctx context.Context, wallet string) error
}

// RateLimiter provides distributed rate limiting. The workflow layer uses it
// to enforce the listings-refresh cooldown and the upstream API budget.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. One workflow per wallet runs at
// a time; a second submission while one is in flight gets ErrLockHeld.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for status events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
