package nftgo

import (
	"encoding/json"
	"time"

	"github.com/nftfolio/listingd/internal/domain"
)

// codeSuccess is the aggregator's success code in the response envelope.
const codeSuccess = "SUCCESS"

// apiEnvelope is the {code, msg, data} wrapper around every response.
type apiEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// actionsData is the data payload of create-listings and cancel-orders.
type actionsData struct {
	Actions []domain.Action `json:"actions"`
}

// postOrderData is the data payload of post-order.
type postOrderData struct {
	RequestID string `json:"request_id"`
}

// checkResultsData is the data payload of check-post-order-results.
type checkResultsData struct {
	Results []domain.PostOrderResult `json:"post_order_results"`
}

// listingsData is the data payload of the orderbook listings query.
type listingsData struct {
	Listings []apiListing `json:"listings"`
}

// apiListing is one wire-format listing entry.
type apiListing struct {
	OrderID        string `json:"order_id"`
	OrderHash      string `json:"order_hash"`
	Orderbook      string `json:"orderbook"`
	OrderKind      string `json:"order_kind"`
	PriceWei       string `json:"price_wei"`
	ExpirationTime int64  `json:"expiration_time"`
}

// ToDomain converts a wire listing to the domain representation.
func (l apiListing) ToDomain() domain.Listing {
	return domain.Listing{
		OrderID:        l.OrderID,
		OrderHash:      l.OrderHash,
		Orderbook:      domain.Orderbook(l.Orderbook),
		OrderKind:      domain.OrderKind(l.OrderKind),
		PriceWei:       l.PriceWei,
		ExpirationTime: time.Unix(l.ExpirationTime, 0).UTC(),
	}
}
