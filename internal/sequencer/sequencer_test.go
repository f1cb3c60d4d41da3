package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/wallet"
)

type fakeWallet struct {
	mu         sync.Mutex
	signCalls  int
	signErr    error
	signatures []string
	txCalls    int
	txErr      error
}

func (w *fakeWallet) SignTypedData(ctx context.Context, td wallet.TypedData) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.signCalls++
	if w.signErr != nil {
		return "", w.signErr
	}
	sig := longSig
	w.signatures = append(w.signatures, sig)
	return sig, nil
}

func (w *fakeWallet) SendTransaction(ctx context.Context, tx domain.TxRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.txCalls++
	if w.txErr != nil {
		return "", w.txErr
	}
	return "0xtxhash", nil
}

func (w *fakeWallet) TransactionReceipt(ctx context.Context, txHash string) (*wallet.Receipt, error) {
	return nil, errors.New("not mined")
}

type postCall struct {
	endpoint string
	payload  map[string]any
}

type fakePoster struct {
	mu    sync.Mutex
	calls []postCall
	errs  map[int]error // keyed by call index
}

func (p *fakePoster) PostOrder(ctx context.Context, endpoint, method string, payload map[string]any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.calls)
	p.calls = append(p.calls, postCall{endpoint: endpoint, payload: payload})
	if err, ok := p.errs[idx]; ok {
		return "", err
	}
	return "req-1", nil
}

type fakeSink struct {
	mu      sync.Mutex
	pending []string
	failed  map[string]string
	polled  []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{failed: make(map[string]string)}
}

func (s *fakeSink) Resolve(ob domain.Orderbook) (string, bool) {
	if ob == "" {
		return "", false
	}
	return string(ob), true
}

func (s *fakeSink) MarkPending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, id)
}

func (s *fakeSink) MarkFailed(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = msg
}

func (s *fakeSink) StartPolling(ctx context.Context, id, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polled = append(s.polled, id)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signatureAction() domain.Action {
	return domain.Action{
		Kind:          domain.ActionSignature,
		SignatureKind: domain.SignatureKindEIP712,
		Domain: map[string]any{
			"name":    "Seaport",
			"version": "1.6",
			"chainId": float64(1),
		},
		Types: json.RawMessage(`{"OrderComponents":[{"name":"offerer","type":"address"}],"EIP712Domain":[{"name":"name","type":"string"}]}`),
		Value: json.RawMessage(`{"offerer":"0xabc"}`),
	}
}

func passThroughAction(orderbook string) domain.Action {
	return domain.Action{
		Kind:     domain.ActionPassThrough,
		Endpoint: "/aggregator/v1/post-order",
		Payload: map[string]any{
			"orderbook": orderbook,
			"order": map[string]any{
				"kind": string(domain.OrderKindSeaportV16),
				"data": map[string]any{},
			},
		},
	}
}

func newTestSequencer(w Wallet, p OrderPoster, sink StatusSink) *Sequencer {
	return New(w, p, sink, testLogger(),
		WithSettleDelay(time.Millisecond),
		WithReceiptPolling(time.Millisecond, 5*time.Millisecond),
	)
}

func TestRunThreadsSignatureIntoPassThrough(t *testing.T) {
	w := &fakeWallet{}
	p := &fakePoster{}
	sink := newFakeSink()
	seq := newTestSequencer(w, p, sink)

	actions := []domain.Action{
		signatureAction(),
		passThroughAction("looks-rare"),
	}

	err := seq.Run(context.Background(), actions)
	require.NoError(t, err)

	require.Len(t, p.calls, 1)
	assert.Equal(t, longSig, p.calls[0].payload["signature"],
		"the signature produced at step 1 must reach the step 2 payload")
	assert.Equal(t, []string{"looks-rare"}, sink.pending)
	assert.Equal(t, []string{"looks-rare"}, sink.polled)
}

func TestRunUserRejectionAbortsEverything(t *testing.T) {
	w := &fakeWallet{signErr: errors.New("MetaMask Tx Signature: User denied transaction signature")}
	p := &fakePoster{}
	sink := newFakeSink()
	seq := newTestSequencer(w, p, sink)

	actions := []domain.Action{
		signatureAction(),
		passThroughAction("opensea"),
		passThroughAction("looks-rare"),
	}

	err := seq.Run(context.Background(), actions)
	require.ErrorIs(t, err, domain.ErrUserRejected)

	assert.Empty(t, p.calls, "no submission may run after the user rejects")
	assert.Empty(t, sink.failed, "a rejection is an abort, not a marketplace failure")
}

func TestRunMarketplaceFailureIsolates(t *testing.T) {
	w := &fakeWallet{}
	p := &fakePoster{errs: map[int]error{0: errors.New("HTTP 500: upstream broke")}}
	sink := newFakeSink()
	seq := newTestSequencer(w, p, sink)

	actions := []domain.Action{
		signatureAction(),
		passThroughAction("opensea"),
		passThroughAction("looks-rare"),
	}

	err := seq.Run(context.Background(), actions)
	require.NoError(t, err, "an isolated marketplace failure does not fail the run")

	assert.Contains(t, sink.failed, "opensea")
	require.Len(t, p.calls, 2, "the run continues past the failed marketplace")
	assert.Equal(t, []string{"looks-rare"}, sink.polled)
}

func TestRunFatalBeforeMarketplaceContext(t *testing.T) {
	w := &fakeWallet{signErr: errors.New("rpc connection refused")}
	p := &fakePoster{}
	sink := newFakeSink()
	seq := newTestSequencer(w, p, sink)

	actions := []domain.Action{
		signatureAction(),
		passThroughAction("opensea"),
	}

	err := seq.Run(context.Background(), actions)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Step)
	assert.Contains(t, err.Error(), "Failed at step 1")
	assert.Empty(t, p.calls)
}

func TestRunUnsupportedActionKind(t *testing.T) {
	seq := newTestSequencer(&fakeWallet{}, &fakePoster{}, newFakeSink())

	err := seq.Run(context.Background(), []domain.Action{{Kind: "mystery"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedAction)
}

func TestRunUnknownOrderbookIsFatal(t *testing.T) {
	seq := newTestSequencer(&fakeWallet{}, &fakePoster{}, newFakeSink())

	err := seq.Run(context.Background(), []domain.Action{passThroughAction("")})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}

func TestRunTransactionProceedsWhenUnconfirmed(t *testing.T) {
	w := &fakeWallet{}
	seq := newTestSequencer(w, &fakePoster{}, newFakeSink())

	err := seq.Run(context.Background(), []domain.Action{{
		Kind:  domain.ActionTransaction,
		To:    "0xcontract",
		Data:  "0xdeadbeef",
		Value: json.RawMessage(`"0"`),
	}})

	require.NoError(t, err, "an unconfirmed transaction is not a failure")
	assert.Equal(t, 1, w.txCalls)
}

func TestRunUserRejectedTransaction(t *testing.T) {
	w := &fakeWallet{txErr: errors.New("User rejected the request")}
	seq := newTestSequencer(w, &fakePoster{}, newFakeSink())

	err := seq.Run(context.Background(), []domain.Action{{
		Kind: domain.ActionTransaction,
		To:   "0xcontract",
	}})

	require.ErrorIs(t, err, domain.ErrUserRejected)
}
