// Package workflow composes the sequencer and tracker into the top-level
// list / cancel / edit operations, one session per connected wallet.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/sequencer"
	"github.com/nftfolio/listingd/internal/tracker"
)

// Aggregator is the marketplace-aggregator surface the workflow consumes.
// Implemented by the nftgo client.
type Aggregator interface {
	CreateListings(ctx context.Context, maker string, params []domain.ListingParams) ([]domain.Action, error)
	CancelOrders(ctx context.Context, caller string, orders []domain.CancelOrder) ([]domain.Action, error)
	ActiveListings(ctx context.Context, contract, tokenID string) ([]domain.Listing, error)
	PostOrder(ctx context.Context, endpoint, method string, payload map[string]any) (string, error)
	CheckPostOrderResults(ctx context.Context, requestIDs []string) ([]domain.PostOrderResult, error)
}

// Notifier delivers operator notifications on workflow settlement.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config carries the workflow tuning knobs.
type Config struct {
	PollInterval       time.Duration
	PollTimeout        time.Duration
	EmptyPollThreshold int
	SettleDelay        time.Duration
	ReceiptInterval    time.Duration
	ReceiptTimeout     time.Duration
	RefreshCooldown    time.Duration
	LockTTL            time.Duration
}

// withDefaults fills zero fields with production values.
func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Minute
	}
	if c.EmptyPollThreshold <= 0 {
		c.EmptyPollThreshold = 5
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.ReceiptInterval <= 0 {
		c.ReceiptInterval = time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 60 * time.Second
	}
	if c.RefreshCooldown <= 0 {
		c.RefreshCooldown = 10 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

// Session owns the workflow state for one connected wallet. It replaces the
// module-level polling and dedup maps of the original dashboard with an
// explicitly lifetime-scoped object: created on wallet connection, torn down
// on disconnect, taking every poll timer with it.
type Session struct {
	walletAddr string
	cfg        Config

	wallet   sequencer.Wallet
	agg      Aggregator
	store    domain.WorkflowStore
	listings domain.ListingCache
	limiter  domain.RateLimiter
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lastUsed time.Time
}

// NewSession creates a workflow session for a wallet address.
func NewSession(
	walletAddr string,
	cfg Config,
	w sequencer.Wallet,
	agg Aggregator,
	store domain.WorkflowStore,
	listings domain.ListingCache,
	limiter domain.RateLimiter,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		walletAddr: walletAddr,
		cfg:        cfg.withDefaults(),
		wallet:     w,
		agg:        agg,
		store:      store,
		listings:   listings,
		limiter:    limiter,
		locks:      locks,
		bus:        bus,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "workflow"), slog.String("wallet", walletAddr)),
		ctx:        ctx,
		cancel:     cancel,
		lastUsed:   time.Now().UTC(),
	}
}

// Close tears the session down. In-flight runs observe the cancelled
// context and clear their trackers' timers.
func (s *Session) Close() {
	s.cancel()
}

// Wallet returns the session's wallet address.
func (s *Session) Wallet() string { return s.walletAddr }

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// ListRequest describes a list operation.
type ListRequest struct {
	Contract     string             `json:"contract"`
	TokenID      string             `json:"token_id"`
	Quantity     int                `json:"quantity"`
	WeiPrice     string             `json:"wei_price"`
	DurationDays int                `json:"duration_days"`
	Orderbooks   []domain.Orderbook `json:"orderbooks"`
}

// Validate checks a ListRequest and fills defaults.
func (r *ListRequest) Validate() error {
	if r.Contract == "" || r.TokenID == "" {
		return fmt.Errorf("%w: contract and token_id are required", domain.ErrInvalidAction)
	}
	if r.WeiPrice == "" {
		return fmt.Errorf("%w: wei_price is required", domain.ErrInvalidAction)
	}
	if len(r.Orderbooks) == 0 {
		return fmt.Errorf("%w: at least one orderbook is required", domain.ErrInvalidAction)
	}
	if r.Quantity <= 0 {
		r.Quantity = 1
	}
	if r.DurationDays <= 0 {
		r.DurationDays = 30
	}
	return nil
}

// CancelRequest describes a cancel operation. Identifiers may be order ids
// or order hashes; classification happens per entry.
type CancelRequest struct {
	Contract    string             `json:"contract"`
	TokenID     string             `json:"token_id"`
	Identifiers []string           `json:"identifiers"`
	OrderType   string             `json:"order_type"`
	Orderbooks  []domain.Orderbook `json:"orderbooks"`
}

// Validate checks a CancelRequest and fills defaults.
func (r *CancelRequest) Validate() error {
	if len(r.Identifiers) == 0 {
		return fmt.Errorf("%w: at least one order identifier is required", domain.ErrInvalidAction)
	}
	if r.OrderType == "" {
		r.OrderType = "listing"
	}
	return nil
}

// EditRequest describes a price/duration change: cancel the active listings,
// then re-list.
type EditRequest struct {
	Contract     string             `json:"contract"`
	TokenID      string             `json:"token_id"`
	Quantity     int                `json:"quantity"`
	WeiPrice     string             `json:"wei_price"`
	DurationDays int                `json:"duration_days"`
	Orderbooks   []domain.Orderbook `json:"orderbooks"`
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// List creates listings on the selected marketplaces and blocks until the
// run settles.
func (s *Session) List(ctx context.Context, req ListRequest) (*domain.WorkflowRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.locks.Acquire(ctx, s.lockKey(), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.list(ctx, uuid.New().String(), req)
}

// StartList begins a list run in the background and returns its workflow id.
// The wallet's workflow lock is taken before returning, so a second start
// while one is in flight fails with ErrLockHeld.
func (s *Session) StartList(req ListRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	unlock, err := s.locks.Acquire(s.ctx, s.lockKey(), s.cfg.LockTTL)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	go func() {
		defer unlock()
		if _, err := s.list(s.ctx, id, req); err != nil {
			s.logger.Error("list workflow failed", slog.String("workflow_id", id), slog.String("error", err.Error()))
		}
	}()
	return id, nil
}

// Cancel cancels the given orders and blocks until the run settles.
func (s *Session) Cancel(ctx context.Context, req CancelRequest) (*domain.WorkflowRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.locks.Acquire(ctx, s.lockKey(), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.cancelRun(ctx, uuid.New().String(), req)
}

// StartCancel begins a cancel run in the background.
func (s *Session) StartCancel(req CancelRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	unlock, err := s.locks.Acquire(s.ctx, s.lockKey(), s.cfg.LockTTL)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	go func() {
		defer unlock()
		if _, err := s.cancelRun(s.ctx, id, req); err != nil {
			s.logger.Error("cancel workflow failed", slog.String("workflow_id", id), slog.String("error", err.Error()))
		}
	}()
	return id, nil
}

// Edit re-prices active listings and blocks until the run settles.
func (s *Session) Edit(ctx context.Context, req EditRequest) (*domain.WorkflowRecord, error) {
	lr := ListRequest(req)
	if err := lr.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.locks.Acquire(ctx, s.lockKey(), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.edit(ctx, uuid.New().String(), EditRequest(lr))
}

// StartEdit begins an edit run in the background.
func (s *Session) StartEdit(req EditRequest) (string, error) {
	lr := ListRequest(req)
	if err := lr.Validate(); err != nil {
		return "", err
	}
	unlock, err := s.locks.Acquire(s.ctx, s.lockKey(), s.cfg.LockTTL)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	go func() {
		defer unlock()
		if _, err := s.edit(s.ctx, id, EditRequest(lr)); err != nil {
			s.logger.Error("edit workflow failed", slog.String("workflow_id", id), slog.String("error", err.Error()))
		}
	}()
	return id, nil
}

func (s *Session) list(ctx context.Context, id string, req ListRequest) (*domain.WorkflowRecord, error) {
	rec := s.newRecord(id, domain.WorkflowList, domain.TokenRef(req.Contract, req.TokenID))
	if err := s.store.Create(ctx, *rec); err != nil {
		return nil, fmt.Errorf("workflow: create record: %w", err)
	}

	tr, fatal := s.execute(ctx, rec, domain.StateListing, s.marketplacesFor(req.Orderbooks),
		func(ctx context.Context) ([]domain.Action, error) {
			return s.agg.CreateListings(ctx, s.walletAddr, s.listParams(req))
		})
	s.settle(ctx, rec, tr, fatal, req.Contract, req.TokenID)
	return rec, nil
}

func (s *Session) cancelRun(ctx context.Context, id string, req CancelRequest) (*domain.WorkflowRecord, error) {
	rec := s.newRecord(id, domain.WorkflowCancel, domain.TokenRef(req.Contract, req.TokenID))
	if err := s.store.Create(ctx, *rec); err != nil {
		return nil, fmt.Errorf("workflow: create record: %w", err)
	}

	tr, fatal := s.execute(ctx, rec, domain.StateCanceling, s.marketplacesFor(req.Orderbooks),
		func(ctx context.Context) ([]domain.Action, error) {
			return s.agg.CancelOrders(ctx, s.walletAddr, cancelTargets(req))
		})
	s.settle(ctx, rec, tr, fatal, req.Contract, req.TokenID)
	return rec, nil
}

// edit is cancel-then-list, grouped per marketplace. Cancellation runs on
// every marketplace with an active listing; the re-list target set follows a
// three-way fallback chain (see relistTargets).
func (s *Session) edit(ctx context.Context, id string, req EditRequest) (*domain.WorkflowRecord, error) {
	rec := s.newRecord(id, domain.WorkflowEdit, domain.TokenRef(req.Contract, req.TokenID))
	if err := s.store.Create(ctx, *rec); err != nil {
		return nil, fmt.Errorf("workflow: create record: %w", err)
	}

	active, err := s.activeListings(ctx, req.Contract, req.TokenID)
	if err != nil {
		// The active set could not be determined; the relist fallback chain
		// degrades to the user-selected marketplaces.
		s.logger.WarnContext(ctx, "active listings lookup failed",
			slog.String("token", rec.Token),
			slog.String("error", err.Error()),
		)
		active = nil
	}

	groups := groupByOrderbook(active)
	activeObs := make([]domain.Orderbook, 0, len(groups))
	var cancelled []domain.Orderbook

	for ob, listings := range groups {
		activeObs = append(activeObs, ob)

		ids := make([]string, 0, len(listings))
		for _, l := range listings {
			ids = append(ids, l.Identifier())
		}
		targets := make([]domain.CancelOrder, 0, len(ids))
		for _, lid := range ids {
			targets = append(targets, domain.NewCancelOrder(lid, "listing"))
		}

		tr, fatal := s.execute(ctx, rec, domain.StateCanceling, s.marketplacesFor([]domain.Orderbook{ob}),
			func(ctx context.Context) ([]domain.Action, error) {
				return s.agg.CancelOrders(ctx, s.walletAddr, targets)
			})
		if fatal != nil {
			if domain.IsUserRejection(fatal) {
				s.settle(ctx, rec, tr, fatal, req.Contract, req.TokenID)
				return rec, nil
			}
			s.logger.WarnContext(ctx, "cancel phase failed for marketplace",
				slog.String("orderbook", string(ob)),
				slog.String("error", fatal.Error()),
			)
			continue
		}
		if !tr.AllFailed() {
			cancelled = append(cancelled, ob)
		}
	}

	targets := relistTargets(cancelled, activeObs, req.Orderbooks)

	tr, fatal := s.execute(ctx, rec, domain.StateListing, s.marketplacesFor(targets),
		func(ctx context.Context) ([]domain.Action, error) {
			return s.agg.CreateListings(ctx, s.walletAddr, s.listParams(ListRequest{
				Contract:     req.Contract,
				TokenID:      req.TokenID,
				Quantity:     req.Quantity,
				WeiPrice:     req.WeiPrice,
				DurationDays: req.DurationDays,
				Orderbooks:   targets,
			}))
		})
	s.settle(ctx, rec, tr, fatal, req.Contract, req.TokenID)
	return rec, nil
}

// ---------------------------------------------------------------------------
// Execution plumbing
// ---------------------------------------------------------------------------

// execute runs one sequencer pass against a fresh tracker and waits for the
// tracked marketplaces to settle. On a fatal abort it clears the tracker's
// timers and fails whatever was left in flight, so no marketplace stays
// pending after an abort.
func (s *Session) execute(
	ctx context.Context,
	rec *domain.WorkflowRecord,
	activeState domain.MarketplaceState,
	marketplaces []domain.MarketplaceStatus,
	produce func(context.Context) ([]domain.Action, error),
) (*tracker.Tracker, error) {
	tr := tracker.New(s.agg, s.logger,
		tracker.WithPollInterval(s.cfg.PollInterval),
		tracker.WithPollTimeout(s.cfg.PollTimeout),
		tracker.WithEmptyPollThreshold(s.cfg.EmptyPollThreshold),
		tracker.WithActiveState(activeState),
		tracker.WithOnTransition(s.transitionHook(rec)),
	)
	for _, ms := range marketplaces {
		tr.Register(ms)
	}

	seq := sequencer.New(s.wallet, s.agg, tr, s.logger,
		sequencer.WithSettleDelay(s.cfg.SettleDelay),
		sequencer.WithReceiptPolling(s.cfg.ReceiptInterval, s.cfg.ReceiptTimeout),
	)

	actions, err := produce(ctx)
	if err != nil {
		return tr, err
	}

	if err := seq.Run(ctx, actions); err != nil {
		tr.Teardown()
		for _, ms := range tr.Statuses() {
			if ms.State.Active() {
				tr.MarkFailed(ms.ID, err.Error())
			}
		}
		return tr, err
	}

	if err := tr.Wait(ctx); err != nil {
		tr.Teardown()
		return tr, err
	}
	return tr, nil
}

// settle finalizes the record from the tracker's aggregates: any success
// wins; all-failed is the only overall failure among dispatched runs; a run
// that dispatched nothing (e.g. pure on-chain cancel) succeeds when no fatal
// error occurred.
func (s *Session) settle(ctx context.Context, rec *domain.WorkflowRecord, tr *tracker.Tracker, fatal error, contract, tokenID string) {
	statuses := tr.Statuses()
	rec.Marketplaces = statuses

	dispatched := false
	for _, ms := range statuses {
		if ms.State != domain.StateIdle {
			dispatched = true
			break
		}
	}

	switch {
	case fatal != nil:
		rec.Status = domain.WorkflowFailed
		rec.Error = fatal.Error()
	case tr.AnySuccess() || !dispatched:
		rec.Status = domain.WorkflowSucceeded
	default:
		rec.Status = domain.WorkflowFailed
		rec.Error = "all marketplaces failed"
	}
	now := time.Now().UTC()
	rec.SettledAt = &now

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.store.Settle(persistCtx, rec.ID, rec.Status, rec.Error, now); err != nil {
		s.logger.Error("settle record failed", slog.String("workflow_id", rec.ID), slog.String("error", err.Error()))
	}
	for _, ms := range statuses {
		if err := s.store.UpsertMarketplace(persistCtx, rec.ID, ms); err != nil {
			s.logger.Error("persist marketplace status failed",
				slog.String("workflow_id", rec.ID),
				slog.String("marketplace", ms.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if payload, err := json.Marshal(rec); err == nil {
		_ = s.bus.Publish(persistCtx, domain.WorkflowChannel, payload)
		_ = s.bus.StreamAppend(persistCtx, domain.WorkflowStream, payload)
	}

	if rec.Status == domain.WorkflowSucceeded {
		_ = s.listings.Invalidate(persistCtx, rec.Token)
		s.refreshListings(persistCtx, contract, tokenID)
	}
	s.notifySettled(persistCtx, rec)
}

// transitionHook persists and publishes every marketplace transition, and
// refreshes the listing cache when a marketplace lands.
func (s *Session) transitionHook(rec *domain.WorkflowRecord) tracker.TransitionFunc {
	return func(ms domain.MarketplaceStatus) {
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()

		if err := s.store.UpsertMarketplace(ctx, rec.ID, ms); err != nil {
			s.logger.Error("persist marketplace status failed",
				slog.String("workflow_id", rec.ID),
				slog.String("marketplace", ms.ID),
				slog.String("error", err.Error()),
			)
		}

		ev := domain.StatusEvent{
			WorkflowID: rec.ID,
			Wallet:     s.walletAddr,
			Kind:       rec.Kind,
			Orderbook:  ms.Orderbook,
			State:      ms.State,
			RequestID:  ms.RequestID,
			Error:      ms.Error,
			At:         time.Now().UTC(),
		}
		if payload, err := json.Marshal(ev); err == nil {
			_ = s.bus.Publish(ctx, domain.StatusChannel, payload)
		}

		if ms.State == domain.StateSuccess {
			_ = s.listings.Invalidate(ctx, rec.Token)
			contract, tokenID, ok := strings.Cut(rec.Token, ":")
			if ok {
				s.refreshListings(ctx, contract, tokenID)
			}
		}
	}
}

// refreshListings re-reads the active listings for a token and repopulates
// the cache. It honours the refresh cooldown: at most one upstream call per
// cooldown window, shared across all triggers for the token.
func (s *Session) refreshListings(ctx context.Context, contract, tokenID string) {
	token := domain.TokenRef(contract, tokenID)
	allowed, err := s.limiter.Allow(ctx, "refresh:"+token, 1, s.cfg.RefreshCooldown)
	if err != nil || !allowed {
		return
	}
	listings, err := s.agg.ActiveListings(ctx, contract, tokenID)
	if err != nil {
		s.logger.WarnContext(ctx, "listings refresh failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		return
	}
	_ = s.listings.Set(ctx, token, listings)
}

// activeListings returns the cached listings for a token, falling back to
// the aggregator on a miss.
func (s *Session) activeListings(ctx context.Context, contract, tokenID string) ([]domain.Listing, error) {
	token := domain.TokenRef(contract, tokenID)
	if cached, err := s.listings.Get(ctx, token); err == nil {
		return cached, nil
	}
	listings, err := s.agg.ActiveListings(ctx, contract, tokenID)
	if err != nil {
		return nil, err
	}
	_ = s.listings.Set(ctx, token, listings)
	return listings, nil
}

func (s *Session) notifySettled(ctx context.Context, rec *domain.WorkflowRecord) {
	if s.notifier == nil {
		return
	}
	event := "workflow_succeeded"
	title := fmt.Sprintf("%s workflow succeeded", rec.Kind)
	msg := fmt.Sprintf("token %s settled with %d marketplace(s)", rec.Token, len(rec.Marketplaces))
	if rec.Status == domain.WorkflowFailed {
		event = "workflow_failed"
		title = fmt.Sprintf("%s workflow failed", rec.Kind)
		msg = fmt.Sprintf("token %s: %s", rec.Token, rec.Error)
	}
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Session) lockKey() string {
	return "workflow:" + strings.ToLower(s.walletAddr)
}

func (s *Session) newRecord(id string, kind domain.WorkflowKind, token string) *domain.WorkflowRecord {
	return &domain.WorkflowRecord{
		ID:        id,
		Wallet:    s.walletAddr,
		Kind:      kind,
		Token:     token,
		Status:    domain.WorkflowRunning,
		StartedAt: time.Now().UTC(),
	}
}

// marketplacesFor builds idle status records for the selected orderbooks.
// The orderbook value doubles as the marketplace id.
func (s *Session) marketplacesFor(obs []domain.Orderbook) []domain.MarketplaceStatus {
	out := make([]domain.MarketplaceStatus, 0, len(obs))
	for _, ob := range obs {
		out = append(out, domain.MarketplaceStatus{
			ID:        string(ob),
			Orderbook: ob,
			OrderKind: domain.DefaultOrderKind(ob),
			State:     domain.StateIdle,
		})
	}
	return out
}

func (s *Session) listParams(req ListRequest) []domain.ListingParams {
	now := time.Now().UTC()
	expiration := now.Add(time.Duration(req.DurationDays) * 24 * time.Hour)

	params := make([]domain.ListingParams, 0, len(req.Orderbooks))
	for _, ob := range req.Orderbooks {
		params = append(params, domain.ListingParams{
			Token:              domain.TokenRef(req.Contract, req.TokenID),
			Quantity:           req.Quantity,
			WeiPrice:           req.WeiPrice,
			OrderKind:          domain.DefaultOrderKind(ob),
			Orderbook:          ob,
			ListingTime:        now.Unix(),
			ExpirationTime:     expiration.Unix(),
			AutomatedRoyalties: true,
		})
	}
	return params
}

func cancelTargets(req CancelRequest) []domain.CancelOrder {
	out := make([]domain.CancelOrder, 0, len(req.Identifiers))
	for _, id := range req.Identifiers {
		out = append(out, domain.NewCancelOrder(id, req.OrderType))
	}
	return out
}

func groupByOrderbook(listings []domain.Listing) map[domain.Orderbook][]domain.Listing {
	groups := make(map[domain.Orderbook][]domain.Listing)
	for _, l := range listings {
		groups[l.Orderbook] = append(groups[l.Orderbook], l)
	}
	return groups
}

// relistTargets picks the marketplaces to re-list on during an edit:
// the successfully-cancelled set intersected with the selection; failing
// that, the originally-active set intersected with the selection; as a last
// resort (the active set could not be determined at all) the selection
// itself.
func relistTargets(cancelled, active, selected []domain.Orderbook) []domain.Orderbook {
	if len(cancelled) > 0 {
		if both := intersect(cancelled, selected); len(both) > 0 {
			return both
		}
	}
	if len(active) > 0 {
		if both := intersect(active, selected); len(both) > 0 {
			return both
		}
	}
	return selected
}

func intersect(a, b []domain.Orderbook) []domain.Orderbook {
	inB := make(map[domain.Orderbook]bool, len(b))
	for _, ob := range b {
		inB[ob] = true
	}
	var out []domain.Orderbook
	for _, ob := range a {
		if inB[ob] {
			out = append(out, ob)
		}
	}
	return out
}
