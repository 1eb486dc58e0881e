package algomart

import (
	"errors"
	"fmt"
)

// SettleError represents a settlement-specific error
type SettleError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeConnectionRejected  = "connection_rejected"
	ErrCodeSessionLost         = "session_lost"
	ErrCodeClaimDenied         = "claim_denied"
	ErrCodeSigningDenied       = "signing_denied"
	ErrCodeTransactionRejected = "transaction_rejected"
	ErrCodeConfirmationTimeout = "confirmation_timeout"
	ErrCodeReconcileNeeded     = "reconcile_needed"
	ErrCodeStoreUnavailable    = "store_unavailable"
)

// ErrNotFound is returned by stores when a listing or trade does not exist.
var ErrNotFound = errors.New("not found")

// ErrSelfPurchase is returned when a buyer attempts to buy their own listing.
var ErrSelfPurchase = errors.New("cannot buy your own listing")

// NewSettleError creates a new settlement error
func NewSettleError(code, message string, details map[string]interface{}) *SettleError {
	return &SettleError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the settlement error code carried by err, or "" if err is
// not a SettleError.
func CodeOf(err error) string {
	var se *SettleError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// TxIDOf extracts the transaction identifier from a SettleError's details.
// Watcher errors attach the txid so callers can journal unknown outcomes.
func TxIDOf(err error) string {
	var se *SettleError
	if !errors.As(err, &se) {
		return ""
	}
	if txid, ok := se.Details["txid"].(string); ok {
		return txid
	}
	return ""
}
