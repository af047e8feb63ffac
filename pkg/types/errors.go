package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the reconciliation engine. Concrete errors wrap
// one of these sentinels so callers can classify them with errors.Is.
var (
	// ErrTransport covers network failures and timeouts talking to the session host
	ErrTransport = errors.New("session host transport error")

	// ErrNotFound means a session or record is absent
	ErrNotFound = errors.New("not found")

	// ErrOwnerInference means an orphan session cannot be attributed to a tenant
	ErrOwnerInference = errors.New("owner could not be inferred")

	// ErrStore covers record store write and read failures
	ErrStore = errors.New("record store error")

	// ErrConfiguration is fatal and aborts a cycle or startup
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput rejects malformed requests before any side effect
	ErrInvalidInput = errors.New("invalid input")
)

// ConfigurationError reports a missing or invalid setting
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// StoreError wraps a record store failure with the operation that caused it
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
