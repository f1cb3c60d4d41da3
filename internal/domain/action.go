package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionKind discriminates the steps an aggregator returns for client-side
// execution.
type ActionKind string

const (
	ActionSignature   ActionKind = "signature"
	ActionTransaction ActionKind = "transaction"
	ActionPassThrough ActionKind = "pass-through"
)

// SignatureKindEIP712 is the only signing scheme the sequencer supports.
const SignatureKindEIP712 = "eip712"

// PostSpec describes an HTTP submission attached to a signature action. The
// produced signature is merged into Body before the request is sent.
type PostSpec struct {
	Endpoint string         `json:"endpoint"`
	Method   string         `json:"method"`
	Body     map[string]any `json:"body"`
}

// TxFields is one of the nested shapes a transaction action may arrive in.
type TxFields struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// TxRequest is the canonical transaction triple dispatched to the wallet.
type TxRequest struct {
	To    string
	Data  string
	Value string
}

// Action is one step of an order workflow, returned by the aggregator and
// executed client-side. It is a tagged union on Kind: signature actions carry
// an EIP-712 payload and an optional immediate post, transaction actions
// carry calldata in one of three shapes, and pass-through actions carry an
// HTTP submission whose payload receives the accumulated signature.
//
// Actions are created fresh per submission, consumed exactly once, and never
// persisted.
type Action struct {
	Kind        ActionKind `json:"kind"`
	Description string     `json:"description,omitempty"`

	// Signature action fields. Types is kept raw because the primary type is
	// inferred from the FIRST key of the types object, and Go maps do not
	// preserve JSON key order.
	SignatureKind string          `json:"signature_kind,omitempty"`
	Domain        map[string]any  `json:"domain,omitempty"`
	Types         json.RawMessage `json:"types,omitempty"`
	Post          *PostSpec       `json:"post,omitempty"`

	// Value doubles as the EIP-712 message (signature actions) and the wei
	// amount (flat-shape transaction actions), depending on Kind.
	Value json.RawMessage `json:"value,omitempty"`

	// Transaction action fields; the aggregator emits any of the flat shape,
	// txData, or tx_data depending on which upstream produced the step.
	To        string    `json:"to,omitempty"`
	Data      string    `json:"data,omitempty"`
	TxData    *TxFields `json:"txData,omitempty"`
	TxDataAlt *TxFields `json:"tx_data,omitempty"`

	// Pass-through action fields.
	Endpoint     string         `json:"endpoint,omitempty"`
	Method       string         `json:"method,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	OrderIndexes []int          `json:"order_indexes,omitempty"`
}

// Message decodes the EIP-712 message of a signature action.
func (a Action) Message() (map[string]any, error) {
	if len(a.Value) == 0 {
		return nil, fmt.Errorf("%w: signature action without value", ErrInvalidAction)
	}
	var msg map[string]any
	if err := json.Unmarshal(a.Value, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode signature value: %v", ErrInvalidAction, err)
	}
	return msg, nil
}

// Transaction normalizes the three possible transaction shapes into one
// canonical TxRequest. The destination address must be 0x-prefixed; anything
// else is invalid.
func (a Action) Transaction() (TxRequest, error) {
	tx := TxRequest{To: a.To, Data: a.Data}
	if len(a.Value) > 0 {
		// The flat shape carries value as a JSON string.
		var v string
		if err := json.Unmarshal(a.Value, &v); err == nil {
			tx.Value = v
		}
	}
	if tx.To == "" && a.TxData != nil {
		tx = TxRequest{To: a.TxData.To, Data: a.TxData.Data, Value: a.TxData.Value}
	}
	if tx.To == "" && a.TxDataAlt != nil {
		tx = TxRequest{To: a.TxDataAlt.To, Data: a.TxDataAlt.Data, Value: a.TxDataAlt.Value}
	}
	if !strings.HasPrefix(tx.To, "0x") {
		return TxRequest{}, fmt.Errorf("%w: transaction destination %q", ErrInvalidAction, tx.To)
	}
	return tx, nil
}

// Orderbook extracts the marketplace routing key from a pass-through payload.
func (a Action) Orderbook() Orderbook {
	ob, _ := a.Payload["orderbook"].(string)
	return Orderbook(ob)
}

// OrderIndex returns the Seaport bulk order index for this action: the first
// entry of order_indexes, or 0 when absent.
func (a Action) OrderIndex() int {
	if len(a.OrderIndexes) > 0 {
		return a.OrderIndexes[0]
	}
	return 0
}

// FirstTypeKey returns the first key of a JSON object in document order. The
// sequencer uses it to infer the EIP-712 primary type from the types map.
// Multi-type payloads are not supported: whatever type comes first wins, so a
// payload whose primary type is not listed first would be mis-signed. Known
// limitation, kept deliberately.
func FirstTypeKey(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: decode types: %v", ErrInvalidAction, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", fmt.Errorf("%w: types is not an object", ErrInvalidAction)
	}
	tok, err = dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: empty types object", ErrInvalidAction)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: empty types object", ErrInvalidAction)
	}
	return key, nil
}
