package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstTypeKeyDocumentOrder(t *testing.T) {
	raw := json.RawMessage(`{"OrderComponents":[],"EIP712Domain":[],"OfferItem":[]}`)

	key, err := FirstTypeKey(raw)
	require.NoError(t, err)
	assert.Equal(t, "OrderComponents", key, "the primary type is the first key in document order")
}

func TestFirstTypeKeyErrors(t *testing.T) {
	cases := map[string]string{
		"not an object": `["a","b"]`,
		"empty object":  `{}`,
		"garbage":       `{{{`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FirstTypeKey(json.RawMessage(raw))
			assert.ErrorIs(t, err, ErrInvalidAction)
		})
	}
}

func TestActionMessage(t *testing.T) {
	a := Action{Value: json.RawMessage(`{"offerer":"0xabc","counter":"0"}`)}

	msg, err := a.Message()
	require.NoError(t, err)
	assert.Equal(t, "0xabc", msg["offerer"])
}

func TestActionMessageMissingValue(t *testing.T) {
	_, err := Action{}.Message()
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestActionTransactionShapes(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		a := Action{To: "0xdest", Data: "0x01", Value: json.RawMessage(`"1000"`)}
		tx, err := a.Transaction()
		require.NoError(t, err)
		assert.Equal(t, TxRequest{To: "0xdest", Data: "0x01", Value: "1000"}, tx)
	})

	t.Run("txData", func(t *testing.T) {
		a := Action{TxData: &TxFields{To: "0xdest", Data: "0x02", Value: "0"}}
		tx, err := a.Transaction()
		require.NoError(t, err)
		assert.Equal(t, TxRequest{To: "0xdest", Data: "0x02", Value: "0"}, tx)
	})

	t.Run("tx_data", func(t *testing.T) {
		a := Action{TxDataAlt: &TxFields{To: "0xdest", Data: "0x03"}}
		tx, err := a.Transaction()
		require.NoError(t, err)
		assert.Equal(t, "0xdest", tx.To)
	})

	t.Run("flat shape wins over nested", func(t *testing.T) {
		a := Action{
			To:     "0xflat",
			TxData: &TxFields{To: "0xnested"},
		}
		tx, err := a.Transaction()
		require.NoError(t, err)
		assert.Equal(t, "0xflat", tx.To)
	})

	t.Run("missing destination", func(t *testing.T) {
		_, err := Action{}.Transaction()
		assert.ErrorIs(t, err, ErrInvalidAction)
	})

	t.Run("non-hex destination", func(t *testing.T) {
		_, err := Action{To: "dest"}.Transaction()
		assert.ErrorIs(t, err, ErrInvalidAction)
	})
}

func TestActionOrderbook(t *testing.T) {
	a := Action{Payload: map[string]any{"orderbook": "opensea"}}
	assert.Equal(t, OrderbookOpenSea, a.Orderbook())

	assert.Equal(t, Orderbook(""), Action{}.Orderbook())
}

func TestActionOrderIndex(t *testing.T) {
	assert.Equal(t, 0, Action{}.OrderIndex())
	assert.Equal(t, 4, Action{OrderIndexes: []int{4, 9}}.OrderIndex())
}
