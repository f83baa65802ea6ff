package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an operation outcome. Kinds decide propagation: some
// are terminal for the record, some retryable, some abort the whole batch.
type ErrorKind string

const (
	KindDuplicate         ErrorKind = "duplicate"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindUnknownBalance    ErrorKind = "unknown_balance"
	KindValidation        ErrorKind = "validation_error"
	KindTransient         ErrorKind = "transient"
	KindLeaseLost         ErrorKind = "lease_lost"
	KindDLQ               ErrorKind = "dlq"
)

// Terminal reports whether the kind is final at record level: it produces a
// failed ledger row where applicable, advances the offset, and is never
// retried.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindDuplicate, KindInsufficientFunds, KindUnknownBalance, KindValidation, KindDLQ:
		return true
	}
	return false
}

// Retryable reports whether the caller may retry with the same transaction id.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// Error is a kind-tagged operational error. Domain outcomes such as duplicate
// transaction ids and insufficient funds are values of this type rather than
// panics or bare sentinels.
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

// E builds a kind-tagged error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Ef builds a kind-tagged error with a formatted message.
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapE wraps err with a kind and message, preserving the chain for
// errors.Is/errors.As.
func WrapE(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Untagged errors report
// KindTransient: anything the pipeline did not classify is assumed to be an
// infrastructure hiccup and safe to retry.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
