package domain

// Orderbook is a marketplace's order-routing identifier, used both in
// aggregator payloads and as the key for per-marketplace status tracking.
type Orderbook string

const (
	OrderbookOpenSea   Orderbook = "opensea"
	OrderbookLooksRare Orderbook = "looks-rare"
	OrderbookNFTGo     Orderbook = "nftgo"
)

// OrderKind is the on-chain order protocol format, which determines how a
// signature is spliced into a submission payload.
type OrderKind string

const (
	OrderKindSeaportV15         OrderKind = "seaport-v1.5"
	OrderKindSeaportV16         OrderKind = "seaport-v1.6"
	OrderKindPaymentProcessorV2 OrderKind = "payment-processor-v2"
)

// DefaultOrderKind maps each supported orderbook to the protocol its backend
// expects for new listings.
func DefaultOrderKind(ob Orderbook) OrderKind {
	switch ob {
	case OrderbookLooksRare:
		return OrderKindSeaportV15
	case OrderbookNFTGo:
		return OrderKindPaymentProcessorV2
	default:
		return OrderKindSeaportV16
	}
}

// MarketplaceState is a marketplace's position in the workflow state machine:
// idle -> pending/listing/canceling -> success | failed. The last two are
// terminal.
type MarketplaceState string

const (
	StateIdle      MarketplaceState = "idle"
	StatePending   MarketplaceState = "pending"
	StateListing   MarketplaceState = "listing"
	StateCanceling MarketplaceState = "canceling"
	StateSuccess   MarketplaceState = "success"
	StateFailed    MarketplaceState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s MarketplaceState) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Active reports whether the marketplace has work in flight.
func (s MarketplaceState) Active() bool {
	return s == StatePending || s == StateListing || s == StateCanceling
}

// MarketplaceStatus is one per-marketplace record of a workflow run. Created
// when the user selects marketplaces, mutated by the sequencer (on dispatch)
// and the poller (on transition), and discarded when the workflow resets.
type MarketplaceStatus struct {
	ID        string           `json:"id"`
	Orderbook Orderbook        `json:"orderbook"`
	OrderKind OrderKind        `json:"order_kind"`
	RequestID string           `json:"request_id,omitempty"`
	State     MarketplaceState `json:"state"`
	Error     string           `json:"error,omitempty"`
}

// PostOrderResult is one entry of a check-post-order-results response.
type PostOrderResult struct {
	RequestID    string `json:"request_id"`
	Status       string `json:"status"` // "success", "failed" or "pending"
	StatusReason string `json:"status_reason,omitempty"`
}

const (
	PostOrderSuccess = "success"
	PostOrderFailed  = "failed"
	PostOrderPending = "pending"
)
