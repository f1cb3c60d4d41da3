package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/wallet"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeWallet struct {
	signErr error
}

func (w *fakeWallet) SignTypedData(ctx context.Context, td wallet.TypedData) (string, error) {
	if w.signErr != nil {
		return "", w.signErr
	}
	return "0xsignature", nil
}

func (w *fakeWallet) SendTransaction(ctx context.Context, tx domain.TxRequest) (string, error) {
	return "0xtxhash", nil
}

func (w *fakeWallet) TransactionReceipt(ctx context.Context, txHash string) (*wallet.Receipt, error) {
	return nil, errors.New("not mined")
}

type fakeAgg struct {
	mu           sync.Mutex
	listActions  []domain.Action
	cancelAction []domain.Action
	listings     []domain.Listing
	listingsErr  error
	results      map[string]domain.PostOrderResult

	createCalls []([]domain.ListingParams)
	cancelCalls [][]domain.CancelOrder
	postCalls   int
}

func (a *fakeAgg) CreateListings(ctx context.Context, maker string, params []domain.ListingParams) ([]domain.Action, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.createCalls = append(a.createCalls, params)
	return a.listActions, nil
}

func (a *fakeAgg) CancelOrders(ctx context.Context, caller string, orders []domain.CancelOrder) ([]domain.Action, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelCalls = append(a.cancelCalls, orders)
	return a.cancelAction, nil
}

func (a *fakeAgg) ActiveListings(ctx context.Context, contract, tokenID string) ([]domain.Listing, error) {
	if a.listingsErr != nil {
		return nil, a.listingsErr
	}
	return a.listings, nil
}

func (a *fakeAgg) PostOrder(ctx context.Context, endpoint, method string, payload map[string]any) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.postCalls++
	return "req-1", nil
}

func (a *fakeAgg) CheckPostOrderResults(ctx context.Context, requestIDs []string) ([]domain.PostOrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.PostOrderResult
	for _, id := range requestIDs {
		if r, ok := a.results[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	created []domain.WorkflowRecord
	settled map[string]domain.WorkflowStatus
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{settled: make(map[string]domain.WorkflowStatus)}
}

func (s *fakeStore) Create(ctx context.Context, rec domain.WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, rec)
	return nil
}

func (s *fakeStore) Settle(ctx context.Context, id string, status domain.WorkflowStatus, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled[id] = status
	return nil
}

func (s *fakeStore) UpsertMarketplace(ctx context.Context, workflowID string, ms domain.MarketplaceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (domain.WorkflowRecord, error) {
	return domain.WorkflowRecord{}, domain.ErrNotFound
}

func (s *fakeStore) ListRecent(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.WorkflowRecord, error) {
	return nil, nil
}

func (s *fakeStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.WorkflowRecord, error) {
	return nil, nil
}

type fakeListingCache struct {
	mu          sync.Mutex
	entries     map[string][]domain.Listing
	invalidated []string
}

func newFakeListingCache() *fakeListingCache {
	return &fakeListingCache{entries: make(map[string][]domain.Listing)}
}

func (c *fakeListingCache) Set(ctx context.Context, token string, listings []domain.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = listings
	return nil
}

func (c *fakeListingCache) Get(ctx context.Context, token string) ([]domain.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.entries[token]; ok {
		return l, nil
	}
	return nil, domain.ErrNotFound
}

func (c *fakeListingCache) Invalidate(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
	c.invalidated = append(c.invalidated, token)
	return nil
}

type fakeLimiter struct{}

func (fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (fakeLimiter) Wait(ctx context.Context, key string) error { return nil }

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

const testWallet = "0xWaLLeT00000000000000000000000000000000aa"

func fastConfig() Config {
	return Config{
		PollInterval:       time.Millisecond,
		PollTimeout:        50 * time.Millisecond,
		EmptyPollThreshold: 2,
		SettleDelay:        time.Millisecond,
		ReceiptInterval:    time.Millisecond,
		ReceiptTimeout:     5 * time.Millisecond,
		RefreshCooldown:    time.Millisecond,
		LockTTL:            time.Minute,
	}
}

type sessionEnv struct {
	session *Session
	agg     *fakeAgg
	store   *fakeStore
	cache   *fakeListingCache
	locks   *fakeLocks
	bus     *fakeBus
}

func newSessionEnv(t *testing.T, agg *fakeAgg) *sessionEnv {
	t.Helper()
	env := &sessionEnv{
		agg:   agg,
		store: newFakeStore(),
		cache: newFakeListingCache(),
		locks: newFakeLocks(),
		bus:   newFakeBus(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.session = NewSession(testWallet, fastConfig(), &fakeWallet{}, agg,
		env.store, env.cache, fakeLimiter{}, env.locks, env.bus, nil, logger)
	t.Cleanup(env.session.Close)
	return env
}

func listingActions(orderbook string) []domain.Action {
	return []domain.Action{
		{
			Kind:          domain.ActionSignature,
			SignatureKind: domain.SignatureKindEIP712,
			Domain:        map[string]any{"name": "Seaport", "chainId": float64(1)},
			Types:         json.RawMessage(`{"OrderComponents":[{"name":"offerer","type":"address"}]}`),
			Value:         json.RawMessage(`{"offerer":"0xabc"}`),
		},
		{
			Kind: domain.ActionPassThrough,
			Payload: map[string]any{
				"orderbook": orderbook,
				"order": map[string]any{
					"kind": string(domain.OrderKindSeaportV16),
					"data": map[string]any{},
				},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Relist target selection
// ---------------------------------------------------------------------------

func TestRelistTargets(t *testing.T) {
	os := domain.OrderbookOpenSea
	lr := domain.OrderbookLooksRare
	ng := domain.OrderbookNFTGo

	cases := []struct {
		name      string
		cancelled []domain.Orderbook
		active    []domain.Orderbook
		selected  []domain.Orderbook
		want      []domain.Orderbook
	}{
		{
			name:      "cancelled set wins",
			cancelled: []domain.Orderbook{os},
			active:    []domain.Orderbook{os, lr},
			selected:  []domain.Orderbook{os, ng},
			want:      []domain.Orderbook{os},
		},
		{
			name:     "no cancellations falls back to active set",
			active:   []domain.Orderbook{os, lr},
			selected: []domain.Orderbook{lr, ng},
			want:     []domain.Orderbook{lr},
		},
		{
			name:      "cancelled disjoint from selection falls back to active",
			cancelled: []domain.Orderbook{os},
			active:    []domain.Orderbook{os, lr},
			selected:  []domain.Orderbook{lr},
			want:      []domain.Orderbook{lr},
		},
		{
			name:     "unknown active set degrades to the selection",
			selected: []domain.Orderbook{os, ng},
			want:     []domain.Orderbook{os, ng},
		},
		{
			name:      "everything disjoint degrades to the selection",
			cancelled: []domain.Orderbook{os},
			active:    []domain.Orderbook{os},
			selected:  []domain.Orderbook{ng},
			want:      []domain.Orderbook{ng},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := relistTargets(tc.cancelled, tc.active, tc.selected)
			assert.Equal(t, tc.want, got)
		})
	}
}

// ---------------------------------------------------------------------------
// Request validation
// ---------------------------------------------------------------------------

func TestListRequestValidate(t *testing.T) {
	r := ListRequest{
		Contract:   "0xabc",
		TokenID:    "1",
		WeiPrice:   "1000000000000000000",
		Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea},
	}
	require.NoError(t, r.Validate())
	assert.Equal(t, 1, r.Quantity)
	assert.Equal(t, 30, r.DurationDays)

	bad := ListRequest{Contract: "0xabc", TokenID: "1", WeiPrice: "1"}
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidAction)

	noPrice := ListRequest{Contract: "0xabc", TokenID: "1", Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea}}
	assert.ErrorIs(t, noPrice.Validate(), domain.ErrInvalidAction)
}

func TestCancelRequestValidate(t *testing.T) {
	r := CancelRequest{Identifiers: []string{"order-1"}}
	require.NoError(t, r.Validate())
	assert.Equal(t, "listing", r.OrderType)

	assert.ErrorIs(t, (&CancelRequest{}).Validate(), domain.ErrInvalidAction)
}

// ---------------------------------------------------------------------------
// End-to-end session runs
// ---------------------------------------------------------------------------

func TestListSucceedsOnMarketplaceSuccess(t *testing.T) {
	agg := &fakeAgg{
		listActions: listingActions("opensea"),
		results: map[string]domain.PostOrderResult{
			"req-1": {RequestID: "req-1", Status: domain.PostOrderSuccess},
		},
	}
	env := newSessionEnv(t, agg)

	rec, err := env.session.List(context.Background(), ListRequest{
		Contract:   "0xabc",
		TokenID:    "1",
		WeiPrice:   "1000",
		Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowSucceeded, rec.Status)
	assert.Equal(t, domain.WorkflowList, rec.Kind)
	assert.Equal(t, "0xabc:1", rec.Token)
	require.NotNil(t, rec.SettledAt)

	env.store.mu.Lock()
	assert.Equal(t, domain.WorkflowSucceeded, env.store.settled[rec.ID])
	env.store.mu.Unlock()

	env.cache.mu.Lock()
	assert.Contains(t, env.cache.invalidated, "0xabc:1")
	env.cache.mu.Unlock()

	env.bus.mu.Lock()
	assert.NotEmpty(t, env.bus.published[domain.WorkflowChannel])
	assert.NotEmpty(t, env.bus.published[domain.StatusChannel])
	assert.NotEmpty(t, env.bus.stream)
	env.bus.mu.Unlock()
}

func TestListFailsWhenAllMarketplacesFail(t *testing.T) {
	agg := &fakeAgg{
		listActions: listingActions("opensea"),
		results: map[string]domain.PostOrderResult{
			"req-1": {RequestID: "req-1", Status: domain.PostOrderFailed, StatusReason: "bad royalty"},
		},
	}
	env := newSessionEnv(t, agg)

	rec, err := env.session.List(context.Background(), ListRequest{
		Contract:   "0xabc",
		TokenID:    "1",
		WeiPrice:   "1000",
		Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowFailed, rec.Status)
	assert.Equal(t, "all marketplaces failed", rec.Error)
}

func TestListUserRejectionFailsRecord(t *testing.T) {
	agg := &fakeAgg{listActions: listingActions("opensea")}
	env := newSessionEnv(t, agg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.session = NewSession(testWallet, fastConfig(),
		&fakeWallet{signErr: errors.New("User rejected the request")},
		agg, env.store, env.cache, fakeLimiter{}, env.locks, env.bus, nil, logger)
	t.Cleanup(env.session.Close)

	rec, err := env.session.List(context.Background(), ListRequest{
		Contract:   "0xabc",
		TokenID:    "1",
		WeiPrice:   "1000",
		Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowFailed, rec.Status)
	assert.Contains(t, rec.Error, "rejected")
	assert.Equal(t, 0, agg.postCalls, "nothing may be submitted after a rejection")
}

func TestCancelWithOnlyTransactionsSucceeds(t *testing.T) {
	agg := &fakeAgg{
		cancelAction: []domain.Action{{
			Kind: domain.ActionTransaction,
			To:   "0xexchange",
			Data: "0xcancelcalldata",
		}},
	}
	env := newSessionEnv(t, agg)

	rec, err := env.session.Cancel(context.Background(), CancelRequest{
		Contract:    "0xabc",
		TokenID:     "1",
		Identifiers: []string{"order-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowSucceeded, rec.Status,
		"a run that dispatched nothing succeeds when no fatal error occurred")
}

func TestConcurrentWorkflowsRejected(t *testing.T) {
	agg := &fakeAgg{listActions: listingActions("opensea")}
	env := newSessionEnv(t, agg)

	// Take the wallet lock out-of-band to simulate an in-flight workflow.
	unlock, err := env.locks.Acquire(context.Background(), env.session.lockKey(), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = env.session.StartList(ListRequest{
		Contract:   "0xabc",
		TokenID:    "1",
		WeiPrice:   "1000",
		Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea},
	})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestEditCancelsActiveThenRelists(t *testing.T) {
	agg := &fakeAgg{
		listActions: listingActions("opensea"),
		cancelAction: []domain.Action{{
			Kind: domain.ActionTransaction,
			To:   "0xexchange",
			Data: "0xcancel",
		}},
		listings: []domain.Listing{{
			OrderHash: "0x" + strings.Repeat("ab", 32),
			Orderbook: domain.OrderbookOpenSea,
			OrderKind: domain.OrderKindSeaportV16,
		}},
		results: map[string]domain.PostOrderResult{
			"req-1": {RequestID: "req-1", Status: domain.PostOrderSuccess},
		},
	}
	env := newSessionEnv(t, agg)

	rec, err := env.session.Edit(context.Background(), EditRequest{
		Contract:   "0xabc",
		TokenID:    "1",
		WeiPrice:   "2000",
		Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea, domain.OrderbookNFTGo},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowSucceeded, rec.Status)
	require.Len(t, agg.cancelCalls, 1, "one cancel batch per active marketplace")
	require.Len(t, agg.createCalls, 1)

	// Only the marketplace that was actually cancelled is re-listed on, even
	// though the user also selected nftgo.
	params := agg.createCalls[0]
	require.Len(t, params, 1)
	assert.Equal(t, domain.OrderbookOpenSea, params[0].Orderbook)
}

func TestEditWithUnknownActiveSetListsOnSelection(t *testing.T) {
	agg := &fakeAgg{
		listActions: listingActions("opensea"),
		listingsErr: errors.New("aggregator down"),
		results: map[string]domain.PostOrderResult{
			"req-1": {RequestID: "req-1", Status: domain.PostOrderSuccess},
		},
	}
	env := newSessionEnv(t, agg)

	rec, err := env.session.Edit(context.Background(), EditRequest{
		Contract:   "0xabc",
		TokenID:    "1",
		WeiPrice:   "2000",
		Orderbooks: []domain.Orderbook{domain.OrderbookOpenSea},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowSucceeded, rec.Status)
	assert.Empty(t, agg.cancelCalls, "nothing to cancel when the active set is unknown")
	require.Len(t, agg.createCalls, 1)
	assert.Equal(t, domain.OrderbookOpenSea, agg.createCalls[0][0].Orderbook)
}
