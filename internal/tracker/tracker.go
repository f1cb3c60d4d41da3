// Package tracker owns the per-marketplace status records of a workflow run
// and polls the aggregator's check endpoint until each marketplace reaches a
// terminal state.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 2 * time.Minute

	// defaultEmptyPollThreshold is the number of consecutive empty poll
	// results after which an nftgo-orderbook submission counts as confirmed.
	// The nftgo backend sometimes never writes a result row for listings it
	// has in fact accepted; this heuristic compensates and should be
	// revisited if the upstream API changes.
	defaultEmptyPollThreshold = 5
)

// ResultChecker polls the processing state of submitted orders. It is
// implemented by the aggregator client.
type ResultChecker interface {
	CheckPostOrderResults(ctx context.Context, requestIDs []string) ([]domain.PostOrderResult, error)
}

// TransitionFunc observes every marketplace state transition. The workflow
// layer uses it to publish status events and to refresh listings on success.
type TransitionFunc func(domain.MarketplaceStatus)

// Tracker tracks one workflow run's marketplaces. Each polled marketplace
// owns exactly one timer, held in a map keyed by marketplace id; all timers
// are cleared on terminal transition, per-marketplace timeout, or Teardown.
type Tracker struct {
	checker ResultChecker
	logger  *slog.Logger

	pollInterval       time.Duration
	pollTimeout        time.Duration
	emptyPollThreshold int

	activeState  domain.MarketplaceState
	onTransition TransitionFunc

	mu         sync.Mutex
	statuses   map[string]*domain.MarketplaceStatus
	cancels    map[string]context.CancelFunc
	emptyPolls map[string]int

	wg      sync.WaitGroup
	changed chan struct{}
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithPollInterval overrides the 3-second poll period.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) { t.pollInterval = d }
}

// WithPollTimeout overrides the 2-minute per-marketplace cap.
func WithPollTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.pollTimeout = d }
}

// WithEmptyPollThreshold overrides the nftgo empty-result threshold.
func WithEmptyPollThreshold(n int) Option {
	return func(t *Tracker) { t.emptyPollThreshold = n }
}

// WithActiveState sets the state dispatched marketplaces enter ("listing"
// for list runs, "canceling" for cancel runs). Defaults to "pending".
func WithActiveState(s domain.MarketplaceState) Option {
	return func(t *Tracker) { t.activeState = s }
}

// WithOnTransition registers a transition observer.
func WithOnTransition(fn TransitionFunc) Option {
	return func(t *Tracker) { t.onTransition = fn }
}

// New creates a Tracker for one workflow run.
func New(checker ResultChecker, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		checker:            checker,
		logger:             logger.With(slog.String("component", "tracker")),
		pollInterval:       defaultPollInterval,
		pollTimeout:        defaultPollTimeout,
		emptyPollThreshold: defaultEmptyPollThreshold,
		activeState:        domain.StatePending,
		statuses:           make(map[string]*domain.MarketplaceStatus),
		cancels:            make(map[string]context.CancelFunc),
		emptyPolls:         make(map[string]int),
		changed:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register creates an idle status record for a selected marketplace.
func (t *Tracker) Register(ms domain.MarketplaceStatus) {
	if ms.State == "" {
		ms.State = domain.StateIdle
	}
	t.mu.Lock()
	t.statuses[ms.ID] = &ms
	t.mu.Unlock()
	t.notifyChanged()
}

// Resolve maps an orderbook routing key to the registered marketplace id.
func (t *Tracker) Resolve(ob domain.Orderbook) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, st := range t.statuses {
		if st.Orderbook == ob {
			return id, true
		}
	}
	return "", false
}

// MarkPending moves a marketplace into the run's active state. The sequencer
// calls it when it dispatches a pass-through submission.
func (t *Tracker) MarkPending(id string) {
	t.mu.Lock()
	st, ok := t.statuses[id]
	if !ok || st.State.Terminal() {
		t.mu.Unlock()
		return
	}
	st.State = t.activeState
	copied := *st
	t.mu.Unlock()

	t.emit(copied)
	t.notifyChanged()
}

// MarkFailed records an isolated per-marketplace failure.
func (t *Tracker) MarkFailed(id, msg string) {
	t.transition(id, domain.StateFailed, msg)
}

// StartPolling records the request id for a marketplace and starts its poll
// timer. A marketplace has at most one active timer: restarting replaces the
// previous one.
func (t *Tracker) StartPolling(ctx context.Context, id, requestID string) {
	t.mu.Lock()
	st, ok := t.statuses[id]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("start polling for unknown marketplace", slog.String("marketplace", id))
		return
	}
	st.RequestID = requestID

	if cancel, ok := t.cancels[id]; ok {
		cancel()
	}
	pollCtx, cancel := context.WithCancel(ctx)
	t.cancels[id] = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.poll(pollCtx, id, requestID)
}

// poll runs one marketplace's timer loop until the marketplace settles, the
// 2-minute cap fires, or the context is cancelled (teardown; not a failure).
func (t *Tracker) poll(ctx context.Context, id, requestID string) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(t.pollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			t.resolveTimeout(id)
			return
		case <-ticker.C:
			if t.checkOnce(ctx, id, requestID) {
				return
			}
		}
	}
}

// checkOnce performs one poll tick and reports whether the marketplace
// settled.
func (t *Tracker) checkOnce(ctx context.Context, id, requestID string) bool {
	results, err := t.checker.CheckPostOrderResults(ctx, []string{requestID})
	if err != nil {
		// Transient: no transition, retry on the next tick.
		t.logger.DebugContext(ctx, "check post order results failed",
			slog.String("marketplace", id),
			slog.String("error", err.Error()),
		)
		return false
	}

	var entry *domain.PostOrderResult
	for i := range results {
		if results[i].RequestID == requestID {
			entry = &results[i]
			break
		}
	}

	if entry == nil {
		return t.recordEmptyPoll(id)
	}

	switch entry.Status {
	case domain.PostOrderSuccess:
		t.transition(id, domain.StateSuccess, "")
		return true
	case domain.PostOrderFailed:
		reason := entry.StatusReason
		if reason == "" {
			reason = "marketplace rejected the order"
		}
		t.transition(id, domain.StateFailed, reason)
		return true
	default:
		return false
	}
}

// recordEmptyPoll counts an empty check result. Only the nftgo orderbook
// resolves early on repeated empties; every other marketplace waits for a
// real result or the hard timeout.
func (t *Tracker) recordEmptyPoll(id string) bool {
	t.mu.Lock()
	st, ok := t.statuses[id]
	if !ok || st.Orderbook != domain.OrderbookNFTGo {
		t.mu.Unlock()
		return false
	}
	t.emptyPolls[id]++
	n := t.emptyPolls[id]
	t.mu.Unlock()

	if n < t.emptyPollThreshold {
		return false
	}
	t.logger.Info("treating repeated empty poll results as success",
		slog.String("marketplace", id),
		slog.Int("empty_polls", n),
	)
	t.transition(id, domain.StateSuccess, "")
	return true
}

// resolveTimeout settles a marketplace when its 2-minute cap fires. If the
// nftgo empty-poll counter already reached its threshold, the prior success
// determination wins over the timeout.
func (t *Tracker) resolveTimeout(id string) {
	t.mu.Lock()
	st, ok := t.statuses[id]
	hitThreshold := ok &&
		st.Orderbook == domain.OrderbookNFTGo &&
		t.emptyPolls[id] >= t.emptyPollThreshold
	t.mu.Unlock()

	if hitThreshold {
		t.transition(id, domain.StateSuccess, "")
		return
	}
	t.transition(id, domain.StateFailed,
		fmt.Sprintf("no confirmation within %s", t.pollTimeout))
}

// transition settles a marketplace into a terminal state and clears its
// timer. Terminal states never regress.
func (t *Tracker) transition(id string, state domain.MarketplaceState, errMsg string) {
	t.mu.Lock()
	st, ok := t.statuses[id]
	if !ok || st.State.Terminal() {
		t.mu.Unlock()
		return
	}
	st.State = state
	st.Error = errMsg
	copied := *st

	cancel := t.cancels[id]
	delete(t.cancels, id)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.emit(copied)
	t.notifyChanged()
}

func (t *Tracker) emit(ms domain.MarketplaceStatus) {
	if t.onTransition != nil {
		t.onTransition(ms)
	}
}

// Statuses returns a snapshot of all tracked marketplaces, sorted by id.
func (t *Tracker) Statuses() []domain.MarketplaceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.MarketplaceStatus, 0, len(t.statuses))
	for _, st := range t.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AnySuccess reports whether at least one marketplace succeeded. The
// aggregate flips as soon as the first success lands, while the remaining
// marketplaces keep polling in the background.
func (t *Tracker) AnySuccess() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.statuses {
		if st.State == domain.StateSuccess {
			return true
		}
	}
	return false
}

// AllFailed reports whether every tracked marketplace failed. This is the
// only condition for an overall failure.
func (t *Tracker) AllFailed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.statuses) == 0 {
		return false
	}
	for _, st := range t.statuses {
		if st.State != domain.StateFailed {
			return false
		}
	}
	return true
}

// AnyActive reports whether any marketplace still has work in flight.
func (t *Tracker) AnyActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.statuses {
		if st.State.Active() {
			return true
		}
	}
	return false
}

// Wait blocks until no marketplace is active or the context is cancelled.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		if !t.AnyActive() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.changed:
		}
	}
}

// Teardown clears every timer and waits for the pollers to exit. Torn-down
// marketplaces keep their last state; teardown is not a failure.
func (t *Tracker) Teardown() {
	t.mu.Lock()
	cancels := t.cancels
	t.cancels = make(map[string]context.CancelFunc)
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	t.wg.Wait()
	t.notifyChanged()
}

func (t *Tracker) notifyChanged() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}
