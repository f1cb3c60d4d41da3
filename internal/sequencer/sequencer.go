// Package sequencer executes the heterogeneous action list an aggregator
// returns for a list/cancel submission: signature requests against the
// wallet, on-chain transactions, and pass-through HTTP submissions that
// consume the signature produced by an earlier step.
package sequencer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/nftfolio/listingd/internal/domain"
	"github.com/nftfolio/listingd/internal/wallet"
)

const (
	// settleDelay is the pause after a signature step that has no immediate
	// post. Nothing synchronizes on it; it is a race-avoidance workaround
	// carried over from the original workflow, not a guarantee.
	settleDelay = time.Second

	receiptPollInterval = time.Second
	receiptPollTimeout  = 60 * time.Second
)

// Wallet is the signing capability the sequencer dispatches to.
type Wallet interface {
	SignTypedData(ctx context.Context, td wallet.TypedData) (string, error)
	SendTransaction(ctx context.Context, tx domain.TxRequest) (string, error)
	TransactionReceipt(ctx context.Context, txHash string) (*wallet.Receipt, error)
}

// OrderPoster submits a spliced pass-through payload and returns the request
// id to poll.
type OrderPoster interface {
	PostOrder(ctx context.Context, endpoint, method string, payload map[string]any) (string, error)
}

// StatusSink receives per-marketplace dispatch and failure notifications.
// Implemented by the tracker.
type StatusSink interface {
	Resolve(ob domain.Orderbook) (string, bool)
	MarkPending(id string)
	MarkFailed(id, msg string)
	StartPolling(ctx context.Context, id, requestID string)
}

// StepError is a fatal workflow failure attributed to one action. Its
// message format is part of the UI contract: the dashboard splits it back
// apart for display.
type StepError struct {
	Step        int
	Description string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("Failed at step %d (%s): %v", e.Step, e.Description, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Sequencer executes one action list at a time, strictly in order: a later
// pass-through consumes the signature a prior step produced, so no action
// starts before the previous one has resolved.
type Sequencer struct {
	wallet     Wallet
	poster     OrderPoster
	sink       StatusSink
	httpClient *http.Client
	logger     *slog.Logger

	// onSignature is a one-way publish of the held signature for display;
	// the sequencer itself only ever reads its local copy.
	onSignature func(sig string)

	settleDelay     time.Duration
	receiptInterval time.Duration
	receiptTimeout  time.Duration
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithOnSignature registers a signature observer for UI display.
func WithOnSignature(fn func(string)) Option {
	return func(s *Sequencer) { s.onSignature = fn }
}

// WithSettleDelay overrides the post-signature settle pause.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Sequencer) { s.settleDelay = d }
}

// WithReceiptPolling overrides the transaction confirmation poll cadence.
func WithReceiptPolling(interval, timeout time.Duration) Option {
	return func(s *Sequencer) {
		s.receiptInterval = interval
		s.receiptTimeout = timeout
	}
}

// WithHTTPClient overrides the client used for signature post submissions.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sequencer) { s.httpClient = c }
}

// New creates a Sequencer.
func New(w Wallet, poster OrderPoster, sink StatusSink, logger *slog.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		wallet:          w,
		poster:          poster,
		sink:            sink,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logger.With(slog.String("component", "sequencer")),
		settleDelay:     settleDelay,
		receiptInterval: receiptPollInterval,
		receiptTimeout:  receiptPollTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the action list. The held signature is a run-local variable
// threaded from signature steps into later pass-throughs.
//
// Error policy: a user rejection aborts the whole run unconditionally.
// Before any marketplace context is established, every failure is fatal and
// surfaces as a StepError. Once a pass-through has resolved a current
// marketplace, failures isolate to that marketplace and the loop continues.
func (s *Sequencer) Run(ctx context.Context, actions []domain.Action) error {
	var signature string
	var currentMarketplace string

	for i, action := range actions {
		step := i + 1
		desc := describe(action)

		var err error
		switch action.Kind {
		case domain.ActionSignature:
			signature, err = s.runSignature(ctx, action)
		case domain.ActionTransaction:
			err = s.runTransaction(ctx, action)
		case domain.ActionPassThrough:
			err = s.runPassThrough(ctx, action, signature, &currentMarketplace)
		default:
			err = fmt.Errorf("%w: %q", domain.ErrUnsupportedAction, action.Kind)
		}

		if err == nil {
			continue
		}
		err = domain.ClassifyWalletError(err)
		if domain.IsUserRejection(err) {
			s.logger.InfoContext(ctx, "workflow aborted by user",
				slog.Int("step", step),
			)
			return domain.ErrUserRejected
		}
		if currentMarketplace != "" {
			s.logger.WarnContext(ctx, "marketplace step failed, continuing",
				slog.Int("step", step),
				slog.String("marketplace", currentMarketplace),
				slog.String("error", err.Error()),
			)
			s.sink.MarkFailed(currentMarketplace, err.Error())
			continue
		}
		return &StepError{Step: step, Description: desc, Err: err}
	}
	return nil
}

// runSignature executes a signature action: eip712 is the only supported
// scheme. If the action carries a post spec, the signature is submitted
// immediately; otherwise the settle delay applies.
func (s *Sequencer) runSignature(ctx context.Context, a domain.Action) (string, error) {
	if a.SignatureKind != domain.SignatureKindEIP712 {
		return "", fmt.Errorf("%w: signature kind %q", domain.ErrUnsupportedAction, a.SignatureKind)
	}

	// The primary type is inferred as the FIRST key of the types object.
	// Multi-type payloads would be mis-signed; known limitation.
	primaryType, err := domain.FirstTypeKey(a.Types)
	if err != nil {
		return "", err
	}
	var types apitypes.Types
	if err := json.Unmarshal(a.Types, &types); err != nil {
		return "", fmt.Errorf("%w: decode types: %v", domain.ErrInvalidAction, err)
	}
	message, err := a.Message()
	if err != nil {
		return "", err
	}

	td := wallet.TypedData{
		Domain:      wallet.DomainFromMap(a.Domain),
		Types:       types,
		PrimaryType: primaryType,
		Message:     message,
	}

	sig, err := s.wallet.SignTypedData(ctx, td)
	if err != nil {
		return "", err
	}
	if s.onSignature != nil {
		s.onSignature(sig)
	}
	s.logger.DebugContext(ctx, "signature produced",
		slog.String("primary_type", primaryType),
	)

	if a.Post != nil {
		if err := s.submitSignaturePost(ctx, a.Post, sig); err != nil {
			return sig, err
		}
		return sig, nil
	}

	// Let the signature settle before the next step consumes it.
	select {
	case <-ctx.Done():
		return sig, ctx.Err()
	case <-time.After(s.settleDelay):
	}
	return sig, nil
}

// submitSignaturePost merges the signature into the post body and submits
// it. A non-2xx response is fatal to the step.
func (s *Sequencer) submitSignaturePost(ctx context.Context, post *domain.PostSpec, sig string) error {
	body := make(map[string]any, len(post.Body)+1)
	for k, v := range post.Body {
		body[k] = v
	}
	body["signature"] = sig

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal signature post: %w", err)
	}

	method := post.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, post.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create signature post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signature post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("signature post HTTP %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// runTransaction normalizes, submits, and waits for a transaction. An
// unconfirmed transaction after the poll timeout is NOT a failure: it may
// still land, so the sequencer logs and proceeds.
func (s *Sequencer) runTransaction(ctx context.Context, a domain.Action) error {
	tx, err := a.Transaction()
	if err != nil {
		return err
	}

	txHash, err := s.wallet.SendTransaction(ctx, tx)
	if err != nil {
		return err
	}

	confirmed, err := s.waitConfirmation(ctx, txHash)
	if err != nil {
		return err
	}
	if !confirmed {
		s.logger.WarnContext(ctx, "transaction unconfirmed after timeout, proceeding",
			slog.String("tx_hash", txHash),
			slog.Duration("timeout", s.receiptTimeout),
		)
	}
	return nil
}

// waitConfirmation polls for a mined receipt once per interval up to the
// timeout. It returns (false, nil) on timeout.
func (s *Sequencer) waitConfirmation(ctx context.Context, txHash string) (bool, error) {
	deadline := time.NewTimer(s.receiptTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.receiptInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			receipt, err := s.wallet.TransactionReceipt(ctx, txHash)
			if err != nil {
				// Not mined yet, or a transient RPC error; keep polling.
				continue
			}
			if receipt != nil && receipt.BlockNumber != nil {
				s.logger.InfoContext(ctx, "transaction confirmed",
					slog.String("tx_hash", txHash),
					slog.String("block", receipt.BlockNumber.String()),
				)
				return true, nil
			}
		}
	}
}

// runPassThrough resolves the target marketplace, splices the held signature
// into the payload, submits it, and hands the returned request id to the
// status sink for polling.
func (s *Sequencer) runPassThrough(ctx context.Context, a domain.Action, signature string, current *string) error {
	ob := a.Orderbook()
	id, ok := s.sink.Resolve(ob)
	if !ok {
		return fmt.Errorf("%w: unknown orderbook %q", domain.ErrInvalidAction, ob)
	}
	*current = id
	s.sink.MarkPending(id)

	payload := SpliceSignature(a, signature)

	requestID, err := s.poster.PostOrder(ctx, a.Endpoint, a.Method, payload)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "order submitted",
		slog.String("marketplace", id),
		slog.String("request_id", requestID),
	)
	s.sink.StartPolling(ctx, id, requestID)
	return nil
}

// describe renders a short human-readable label for a step, used in fatal
// step errors.
func describe(a domain.Action) string {
	if a.Description != "" {
		return a.Description
	}
	switch a.Kind {
	case domain.ActionSignature:
		return "wallet signature"
	case domain.ActionTransaction:
		return "on-chain transaction"
	case domain.ActionPassThrough:
		return fmt.Sprintf("submit order to %s", a.Orderbook())
	default:
		return string(a.Kind)
	}
}
