package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/redis/go-redis/v9"
)

const portfolioTTL = 5 * time.Minute

// PortfolioCache implements domain.PortfolioCache using JSON-serialized NFT
// holdings keyed by lowercased wallet address.
//
// Key schema:
//
//	portfolio:{wallet} - JSON array of NFTs
type PortfolioCache struct {
	rdb *redis.Client
}

// NewPortfolioCache creates a PortfolioCache backed by the given Client.
func NewPortfolioCache(c *Client) *PortfolioCache {
	return &PortfolioCache{rdb: c.Underlying()}
}

func portfolioKey(wallet string) string {
	return "portfolio:" + strings.ToLower(wallet)
}

// Set stores a wallet's holdings with a 5-minute TTL.
func (pc *PortfolioCache) Set(ctx context.Context, wallet string, nfts []domain.NFT) error {
	if nfts == nil {
		nfts = []domain.NFT{}
	}
	data, err := json.Marshal(nfts)
	if err != nil {
		return fmt.Errorf("redis: marshal portfolio %s: %w", wallet, err)
	}
	if err := pc.rdb.Set(ctx, portfolioKey(wallet), data, portfolioTTL).Err(); err != nil {
		return fmt.Errorf("redis: set portfolio %s: %w", wallet, err)
	}
	return nil
}

// Get retrieves a wallet's cached holdings.
// It returns domain.ErrNotFound when no entry exists.
func (pc *PortfolioCache) Get(ctx context.Context, wallet string) ([]domain.NFT, error) {
	data, err := pc.rdb.Get(ctx, portfolioKey(wallet)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get portfolio %s: %w", wallet, err)
	}

	var nfts []domain.NFT
	if err := json.Unmarshal(data, &nfts); err != nil {
		return nil, fmt.Errorf("redis: unmarshal portfolio %s: %w", wallet, err)
	}
	return nfts, nil
}

// Invalidate drops a wallet's cached holdings.
func (pc *PortfolioCache) Invalidate(ctx context.Context, wallet string) error {
	if err := pc.rdb.Del(ctx, portfolioKey(wallet)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate portfolio %s: %w", wallet, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PortfolioCache = (*PortfolioCache)(nil)
