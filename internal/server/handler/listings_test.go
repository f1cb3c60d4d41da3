package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/workflow"
)

type stubListingCache struct {
	entries map[string][]domain.Listing
}

func (c *stubListingCache) Set(ctx context.Context, token string, listings []domain.Listing) error {
	if c.entries == nil {
		c.entries = make(map[string][]domain.Listing)
	}
	c.entries[token] = listings
	return nil
}

func (c *stubListingCache) Get(ctx context.Context, token string) ([]domain.Listing, error) {
	if l, ok := c.entries[token]; ok {
		return l, nil
	}
	return nil, domain.ErrNotFound
}

func (c *stubListingCache) Invalidate(ctx context.Context, token string) error {
	delete(c.entries, token)
	return nil
}

type stubListingSource struct {
	listings []domain.Listing
	err      error
	calls    int
}

func (s *stubListingSource) ActiveListings(ctx context.Context, contract, tokenID string) ([]domain.Listing, error) {
	s.calls++
	return s.listings, s.err
}

// heldLocks always reports the wallet lock as taken.
type heldLocks struct{}

func (heldLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type stubSessions struct {
	session *workflow.Session
}

func (s *stubSessions) Session(wallet string) *workflow.Session { return s.session }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func lockedSessionProvider(t *testing.T) SessionProvider {
	t.Helper()
	session := workflow.NewSession("0xwallet", workflow.Config{}, nil, nil,
		nil, nil, nil, heldLocks{}, nil, nil, discardLogger())
	t.Cleanup(session.Close)
	return &stubSessions{session: session}
}

func newListingsMux(h *ListingsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/listings/{contract}/{token}", h.GetListings)
	mux.HandleFunc("POST /api/listings", h.CreateListings)
	mux.HandleFunc("PUT /api/listings", h.EditListings)
	mux.HandleFunc("DELETE /api/listings", h.CancelListings)
	return mux
}

func TestGetListingsCacheMissFetchesAndCaches(t *testing.T) {
	source := &stubListingSource{listings: []domain.Listing{{
		OrderHash: "0xhash",
		Orderbook: domain.OrderbookOpenSea,
	}}}
	cache := &stubListingCache{}
	h := NewListingsHandler(nil, source, cache, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/listings/0xabc/7", nil)
	newListingsMux(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Token    string           `json:"token"`
		Listings []domain.Listing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "0xabc:7", body.Token)
	require.Len(t, body.Listings, 1)

	assert.Contains(t, cache.entries, "0xabc:7", "the fetched listings are cached")
	assert.Equal(t, 1, source.calls)
}

func TestGetListingsCacheHitSkipsUpstream(t *testing.T) {
	source := &stubListingSource{}
	cache := &stubListingCache{}
	require.NoError(t, cache.Set(context.Background(), "0xabc:7", []domain.Listing{{OrderID: "o1"}}))
	h := NewListingsHandler(nil, source, cache, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/listings/0xabc/7", nil)
	newListingsMux(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, source.calls)
}

func TestGetListingsUpstreamFailure(t *testing.T) {
	source := &stubListingSource{err: errors.New("aggregator down")}
	h := NewListingsHandler(nil, source, &stubListingCache{}, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/listings/0xabc/7", nil)
	newListingsMux(h).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestCreateListingsLockConflict(t *testing.T) {
	h := NewListingsHandler(lockedSessionProvider(t), nil, &stubListingCache{}, discardLogger())

	body := `{"wallet":"0xwallet","contract":"0xabc","token_id":"1","wei_price":"1000","orderbooks":["opensea"]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body))
	newListingsMux(h).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "already running")
}

func TestCreateListingsValidationFailure(t *testing.T) {
	h := NewListingsHandler(lockedSessionProvider(t), nil, &stubListingCache{}, discardLogger())

	// Missing wei_price: rejected before the lock is even consulted.
	body := `{"wallet":"0xwallet","contract":"0xabc","token_id":"1","orderbooks":["opensea"]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body))
	newListingsMux(h).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateListingsMissingWallet(t *testing.T) {
	h := NewListingsHandler(lockedSessionProvider(t), nil, &stubListingCache{}, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(`{}`))
	newListingsMux(h).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "wallet is required")
}

func TestCancelListingsLockConflict(t *testing.T) {
	h := NewListingsHandler(lockedSessionProvider(t), nil, &stubListingCache{}, discardLogger())

	body := `{"wallet":"0xwallet","identifiers":["order-1"]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/listings", strings.NewReader(body))
	newListingsMux(h).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}
