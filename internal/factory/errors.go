package factory

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors
var (
	// ErrNotReady is returned by operations that need a connected factory.
	ErrNotReady = errors.New("factory is not connected")

	// ErrNotConnected is returned by Disconnect before any Connect.
	ErrNotConnected = errors.New("admin connection was never created")
)

// ConnectionError means the admin connection could not be established.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to ledger: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvalidArgumentError rejects a malformed create request.
type InvalidArgumentError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// UnreachableError means the account's existence check failed. Status is 0
// when the request itself failed, in which case Err holds the cause.
type UnreachableError struct {
	Address string
	Status  int
	Body    string
	Err     error
}

func (e *UnreachableError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("account %s unreachable: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("account %s unreachable: %d %s: %s",
		e.Address, e.Status, http.StatusText(e.Status), e.Body)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// SubscriptionError means the admin connection's subscription set could not
// be updated. The proxy it accompanies is registered but degraded.
type SubscriptionError struct {
	Accounts []string
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %d accounts: %v", len(e.Accounts), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
