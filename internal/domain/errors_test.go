package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUserRejection(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrUserRejected, true},
		{"wrapped sentinel", fmt.Errorf("step 2: %w", ErrUserRejected), true},
		{"metamask denial", errors.New("MetaMask Tx Signature: User denied transaction signature"), true},
		{"generic rejection", errors.New("User rejected the request"), true},
		{"generic denial", errors.New("User denied message signature"), true},
		{"rpc failure", errors.New("connection refused"), false},
		{"http failure", errors.New("HTTP 500: internal error"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUserRejection(tc.err))
		})
	}
}

func TestClassifyWalletError(t *testing.T) {
	assert.NoError(t, ClassifyWalletError(nil))

	raw := errors.New("User rejected the request")
	assert.ErrorIs(t, ClassifyWalletError(raw), ErrUserRejected,
		"provider rejection strings collapse onto the sentinel")

	other := errors.New("nonce too low")
	assert.Same(t, other, ClassifyWalletError(other))
}
