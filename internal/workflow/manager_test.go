package workflow

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(fastConfig(), &fakeWallet{}, &fakeAgg{}, newFakeStore(),
		newFakeListingCache(), fakeLimiter{}, newFakeLocks(), newFakeBus(), nil, logger)
	t.Cleanup(m.Close)
	return m
}

func TestManagerReusesSessionsCaseInsensitively(t *testing.T) {
	m := newTestManager(t)

	a := m.Session("0xAbCdEf")
	b := m.Session("0xabcdef")
	require.Same(t, a, b, "wallet addresses are case-insensitive")

	c := m.Session("0xother")
	assert.NotSame(t, a, c)
}

func TestManagerRelease(t *testing.T) {
	m := newTestManager(t)

	a := m.Session("0xwallet")
	m.Release("0xWALLET")

	b := m.Session("0xwallet")
	assert.NotSame(t, a, b, "release discards the old session")

	select {
	case <-a.ctx.Done():
	default:
		t.Fatal("released session must be closed")
	}
}

func TestManagerReapClosesIdleSessions(t *testing.T) {
	m := newTestManager(t)
	m.idleTTL = time.Nanosecond

	a := m.Session("0xwallet")
	time.Sleep(time.Millisecond)
	m.Reap()

	select {
	case <-a.ctx.Done():
	default:
		t.Fatal("idle session must be reaped")
	}

	b := m.Session("0xwallet")
	assert.NotSame(t, a, b)
}
