package domain

import (
	"fmt"
	"time"
)

// NFT is one owned token in a wallet's portfolio.
type NFT struct {
	Contract   string `json:"contract"`
	TokenID    string `json:"token_id"`
	Name       string `json:"name,omitempty"`
	Collection string `json:"collection,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Amount     int    `json:"amount"`
}

// Token formats the contract:tokenId pair the aggregator expects.
func (n NFT) Token() string {
	return TokenRef(n.Contract, n.TokenID)
}

// TokenRef builds the "<contract>:<tokenId>" aggregator token reference.
func TokenRef(contract, tokenID string) string {
	return fmt.Sprintf("%s:%s", contract, tokenID)
}

// ListingParams is one entry of a create-listings request. Field casing is
// part of the wire format.
type ListingParams struct {
	Token              string    `json:"token"`
	Quantity           int       `json:"quantity"`
	WeiPrice           string    `json:"wei_price"`
	OrderKind          OrderKind `json:"order_kind"`
	Orderbook          Orderbook `json:"orderbook"`
	ListingTime        int64     `json:"listing_time"`
	ExpirationTime     int64     `json:"expiration_time"`
	AutomatedRoyalties bool      `json:"automated_royalties"`
}

// Listing is an active marketplace listing for an NFT.
type Listing struct {
	OrderID        string    `json:"order_id,omitempty"`
	OrderHash      string    `json:"order_hash,omitempty"`
	Orderbook      Orderbook `json:"orderbook"`
	OrderKind      OrderKind `json:"order_kind"`
	PriceWei       string    `json:"price_wei"`
	ExpirationTime time.Time `json:"expiration_time"`
}

// Identifier returns whichever order identifier the listing carries,
// preferring the hash.
func (l Listing) Identifier() string {
	if l.OrderHash != "" {
		return l.OrderHash
	}
	return l.OrderID
}

// CancelOrder is one entry of a cancel-orders request. Exactly one of
// OrderID or OrderHash is set.
type CancelOrder struct {
	OrderID   string `json:"order_id,omitempty"`
	OrderHash string `json:"order_hash,omitempty"`
	OrderType string `json:"order_type"`
}

// orderHashMinLen is the identifier-length cutoff used to decide which field
// the cancel backend expects: opaque order ids are short, order hashes are
// 66-char hex strings. Anything longer than 24 characters is treated as a
// hash.
const orderHashMinLen = 24

// NewCancelOrder classifies an order identifier into the field the backend
// expects. The length heuristic is deliberate and isolated here so it can be
// tested on its own.
func NewCancelOrder(identifier, orderType string) CancelOrder {
	co := CancelOrder{OrderType: orderType}
	if len(identifier) > orderHashMinLen {
		co.OrderHash = identifier
	} else {
		co.OrderID = identifier
	}
	return co
}
