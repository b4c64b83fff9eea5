package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorKind is the machine-checkable category of a bridge failure
type ErrorKind string

const (
	KindValidation            ErrorKind = "validation"
	KindQuoteUnavailable      ErrorKind = "quote-unavailable"
	KindSimulationFailed      ErrorKind = "simulation-failed"
	KindUserRejected          ErrorKind = "user-rejected"
	KindNetwork               ErrorKind = "network"
	KindSettlementReverted    ErrorKind = "settlement-reverted"
	KindReconciliationWarning ErrorKind = "reconciliation-warning"
	KindConfirmationTimeout   ErrorKind = "confirmation-timeout"
)

// RevertReason refines an ErrorKind. The first three are decoded from
// simulation reverts; ReasonBalanceShortfall comes from the pre-attempt
// balance check.
type RevertReason string

const (
	ReasonNone                RevertReason = ""
	ReasonInsufficientBalance RevertReason = "insufficient-balance"
	ReasonInvalidIdentifier   RevertReason = "invalid-identifier"
	ReasonIdentifierReused    RevertReason = "identifier-reused"
	ReasonBalanceShortfall    RevertReason = "balance-shortfall"
)

// BridgeError is the error type returned across the bridge pipeline
type BridgeError struct {
	Kind    ErrorKind
	Reason  RevertReason
	Message string
	TxHash  common.Hash // zero unless a transaction was broadcast
	Err     error
}

func (e *BridgeError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Category returns the decoded revert reason when there is one, otherwise
// the error kind.
func (e *BridgeError) Category() string {
	if e.Reason != ReasonNone {
		return string(e.Reason)
	}
	return string(e.Kind)
}

// Retryable reports whether the caller may safely issue a new attempt right
// away. Nothing after broadcast is retryable with the same request.
func (e *BridgeError) Retryable() bool {
	switch e.Kind {
	case KindValidation, KindQuoteUnavailable, KindNetwork, KindUserRejected:
		return true
	default:
		return false
	}
}

// NewError builds a BridgeError of the given kind.
func NewError(kind ErrorKind, err error, format string, args ...interface{}) *BridgeError {
	return &BridgeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf extracts the error kind, or "" if err is not a BridgeError.
func KindOf(err error) ErrorKind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// CategoryOf extracts the category, or "" if err is not a BridgeError.
func CategoryOf(err error) string {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Category()
	}
	return ""
}
