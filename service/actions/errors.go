package actions

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures in the action pipeline so the HTTP layer can
// map them to a status code without inspecting error text.
type ErrorKind string

const (
	KindMissingIdentifier          ErrorKind = "missing_identifier"
	KindBlinkNotFound              ErrorKind = "blink_not_found"
	KindBlinkUnpaid                ErrorKind = "blink_unpaid"
	KindMissingAccount             ErrorKind = "missing_account"
	KindInvalidPublicKey           ErrorKind = "invalid_public_key"
	KindInvalidAmount              ErrorKind = "invalid_amount"
	KindNetworkUnavailable         ErrorKind = "network_unavailable"
	KindPersistenceFailure         ErrorKind = "persistence_failure"
	KindTransactionAssemblyFailure ErrorKind = "transaction_assembly_failure"
)

// Messages returned to callers. UnpaidMessage is part of the public protocol
// contract and must not change.
const (
	UnpaidMessage            = "This blink is not paid for yet. Please pay to use it."
	MissingIDMessage         = "Missing blink ID"
	NotFoundMessage          = "Blink not found"
	MissingAccountMessage    = "Missing account"
	FetchFailedMessage       = "Failed to fetch blink"
	TransactionFailedMessage = "Failed to create transaction"
)

// Error is the tagged error produced by the resolver and executor.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or the empty string when err is not an *Error.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsClientError reports whether err was caused by caller input rather than by
// the service or one of its collaborators.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindMissingIdentifier, KindMissingAccount, KindInvalidAmount:
		return true
	case KindInvalidPublicKey:
		// Stored wallets and mints that fail to parse are server faults.
		return errors.Is(err, ErrInvalidAccount)
	}
	return false
}
