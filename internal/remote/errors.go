// Package remote defines the contract between the mutation engine and the
// remote account-management service: operations, per-item batch results,
// the classified error kinds, and the per-account session cache.
package remote

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Sentinel errors for remote error classification.
// Use errors.Is(err, remote.ErrRateLimited) to check.
var (
	ErrRateLimited     = errors.New("remote: rate limited")
	ErrAuthChallenge   = errors.New("remote: authentication challenge")
	ErrAuthFailed      = errors.New("remote: authentication failed")
	ErrPolicyViolation = errors.New("remote: policy violation")
	ErrGeneric         = errors.New("remote: request failed")
)

// Kind classifies a remote error or a per-item failure.
type Kind int

// Error kinds. AuthFailed is unrecoverable; AuthChallenge is a periodic
// re-authentication request that clears after a wait.
const (
	KindGeneric Kind = iota
	KindRateLimited
	KindAuthChallenge
	KindAuthFailed
	KindPolicyViolation
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthChallenge:
		return "auth_challenge"
	case KindAuthFailed:
		return "auth_failed"
	case KindPolicyViolation:
		return "policy_violation"
	default:
		return "generic"
	}
}

// sentinel maps a kind to its sentinel error.
func (k Kind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindAuthChallenge:
		return ErrAuthChallenge
	case KindAuthFailed:
		return ErrAuthFailed
	case KindPolicyViolation:
		return ErrPolicyViolation
	default:
		return ErrGeneric
	}
}

// NoItem marks an Error that does not name a specific operation.
const NoItem = -1

// Error is a call-level failure returned by Service methods. ItemIndex names
// the offending operation for PolicyViolation and Generic errors when the
// service reports one, and is NoItem otherwise.
type Error struct {
	Kind       Kind
	ItemIndex  int
	RetryAfter time.Duration // advertised wait for RateLimited; zero if absent
	Detail     string
	Policy     *Policy // set for PolicyViolation when the service describes it
}

// NewError builds an Error of the given kind that names no item.
func NewError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, ItemIndex: NoItem, Detail: detail}
}

// RateLimited builds a rate-limit Error with an advertised retry-after.
func RateLimited(retryAfter time.Duration, detail string) *Error {
	return &Error{Kind: KindRateLimited, ItemIndex: NoItem, RetryAfter: retryAfter, Detail: detail}
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindRateLimited && e.RetryAfter > 0:
		return fmt.Sprintf("remote: %s (retry after %s): %s", e.Kind, e.RetryAfter, e.Detail)
	case e.ItemIndex >= 0:
		return fmt.Sprintf("remote: %s at operations[%d]: %s", e.Kind, e.ItemIndex, e.Detail)
	default:
		return fmt.Sprintf("remote: %s: %s", e.Kind, e.Detail)
	}
}

// Unwrap returns the sentinel for the error's kind, for errors.Is().
func (e *Error) Unwrap() error {
	return e.Kind.sentinel()
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}

	return nil, false
}

// IsRetryable reports whether err is a rate-limit or re-authentication
// signal that clears after waiting.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAuthChallenge)
}

// operationIndexPattern matches the zero-based locator in a field path such
// as "operations[3].operand.name".
var operationIndexPattern = regexp.MustCompile(`(?:^|\.)operations\[(\d+)\]`)

// ParseOperationIndex extracts N from an "operations[N]" field path. It is
// a fallback for services that report a path instead of a structured index.
func ParseOperationIndex(fieldPath string) (int, bool) {
	m := operationIndexPattern.FindStringSubmatch(fieldPath)
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}

	return n, true
}
