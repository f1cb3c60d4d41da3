package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/redis/go-redis/v9"
)

const listingTTL = 2 * time.Minute

// ListingCache implements domain.ListingCache using JSON-serialized listing
// sets keyed by token reference ("contract:tokenId"). The short TTL bounds
// staleness between workflow settlements.
//
// Key schema:
//
//	listings:{contract:tokenId} - JSON array of listings
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

func listingKey(token string) string { return "listings:" + token }

// Set stores the active listings for a token with a 2-minute TTL. An empty
// slice is stored as well, so "no active listings" is a cacheable answer.
func (lc *ListingCache) Set(ctx context.Context, token string, listings []domain.Listing) error {
	if listings == nil {
		listings = []domain.Listing{}
	}
	data, err := json.Marshal(listings)
	if err != nil {
		return fmt.Errorf("redis: marshal listings %s: %w", token, err)
	}
	if err := lc.rdb.Set(ctx, listingKey(token), data, listingTTL).Err(); err != nil {
		return fmt.Errorf("redis: set listings %s: %w", token, err)
	}
	return nil
}

// Get retrieves the cached listings for a token.
// It returns domain.ErrNotFound when no entry exists.
func (lc *ListingCache) Get(ctx context.Context, token string) ([]domain.Listing, error) {
	data, err := lc.rdb.Get(ctx, listingKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get listings %s: %w", token, err)
	}

	var listings []domain.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("redis: unmarshal listings %s: %w", token, err)
	}
	return listings, nil
}

// Invalidate drops the cached listings for a token.
func (lc *ListingCache) Invalidate(ctx context.Context, token string) error {
	if err := lc.rdb.Del(ctx, listingKey(token)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate listings %s: %w", token, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
