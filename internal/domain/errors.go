package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidAction     = errors.New("invalid action data")
	ErrUnsupportedAction = errors.New("unsupported action kind")
	ErrSigningFailed     = errors.New("signing failed")
)

// ErrUserRejected indicates the wallet owner declined a signature or
// transaction prompt. It is fatal to the whole workflow: no retry, no
// per-marketplace isolation. The message is shown to the user verbatim.
var ErrUserRejected = errors.New("You've rejected the request")

// rejectionPatterns are the known substrings wallet providers embed in their
// error strings when the user declines a prompt. MetaMask alone has shipped
// at least two formats.
var rejectionPatterns = []string{
	"User rejected",
	"User denied",
	"MetaMask Tx Signature: User denied",
}

// IsUserRejection reports whether err represents a deliberate wallet-side
// rejection by the user, either as the ErrUserRejected sentinel or as a raw
// provider error string.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	msg := err.Error()
	for _, p := range rejectionPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ClassifyWalletError normalizes heterogeneous wallet-provider errors. User
// rejections collapse onto the ErrUserRejected sentinel; everything else is
// returned unchanged.
func ClassifyWalletError(err error) error {
	if err == nil {
		return nil
	}
	if IsUserRejection(err) {
		return ErrUserRejected
	}
	return err
}
