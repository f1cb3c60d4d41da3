package workflow

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/sequencer"
)

// Manager hands out one Session per wallet and tears them all down on
// shutdown. Sessions idle past the reap interval are closed lazily.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg      Config
	wallet   sequencer.Wallet
	agg      Aggregator
	store    domain.WorkflowStore
	listings domain.ListingCache
	limiter  domain.RateLimiter
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger

	idleTTL time.Duration
}

// NewManager creates a session manager over shared infrastructure.
func NewManager(
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
) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		wallet:   w,
		agg:      agg,
		store:    store,
		listings: listings,
		limiter:  limiter,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		idleTTL:  30 * time.Minute,
	}
}

// Session returns the session for a wallet, creating it on first use.
// Wallet addresses are case-insensitive.
func (m *Manager) Session(wallet string) *Session {
	key := strings.ToLower(wallet)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		s.lastUsed = time.Now().UTC()
		return s
	}
	s := NewSession(wallet, m.cfg, m.wallet, m.agg, m.store, m.listings,
		m.limiter, m.locks, m.bus, m.notifier, m.logger)
	m.sessions[key] = s
	m.logger.Info("workflow session created", slog.String("wallet", wallet))
	return s
}

// Release closes and removes the session for a wallet, clearing any poll
// timers still running under it.
func (m *Manager) Release(wallet string) {
	key := strings.ToLower(wallet)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		s.Close()
		delete(m.sessions, key)
		m.logger.Info("workflow session released", slog.String("wallet", wallet))
	}
}

// Reap closes sessions idle past the TTL. Intended to run periodically.
func (m *Manager) Reap() {
	cutoff := time.Now().UTC().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, s := range m.sessions {
		if s.lastUsed.Before(cutoff) {
			s.Close()
			delete(m.sessions, key)
			m.logger.Info("workflow session reaped", slog.String("wallet", s.walletAddr))
		}
	}
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, s := range m.sessions {
		s.Close()
		delete(m.sessions, key)
	}
}
