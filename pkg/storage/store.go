package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/sessionsync/pkg/types"
)

var (
	// ErrNotFound is returned when a record, contact or cycle is absent
	ErrNotFound = fmt.Errorf("storage: %w", types.ErrNotFound)

	// ErrAlreadyExists is returned when a record ID or remote session ID is taken
	ErrAlreadyExists = errors.New("storage: already exists")
)

// Store defines the interface for session record storage.
// Every write touches a single row; no cross-row transactions are offered.
type Store interface {
	// Session records
	CreateRecord(ctx context.Context, record *types.SessionRecord) error
	GetRecord(ctx context.Context, id string) (*types.SessionRecord, error)
	GetRecordByRemoteID(ctx context.Context, remoteSessionID string) (*types.SessionRecord, error)
	ListRecords(ctx context.Context) ([]*types.SessionRecord, error)
	ListByType(ctx context.Context, connectionType types.ConnectionType) ([]*types.SessionRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*types.SessionRecord, error)
	UpdateRecord(ctx context.Context, record *types.SessionRecord) error
	UpsertStatus(ctx context.Context, id string, update types.StatusUpdate) error
	DeleteRecord(ctx context.Context, id string) error

	// Contacts
	CreateContact(ctx context.Context, contact *types.Contact) error
	// FindOwnerByPhone returns "" and a nil error when no contact matches
	FindOwnerByPhone(ctx context.Context, phone string) (string, error)

	// Cycle history
	RecordCycle(ctx context.Context, summary *types.ReconciliationSummary) error
	ListCycles(ctx context.Context, limit int) ([]*types.ReconciliationSummary, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}

// IsNotFound reports whether err means the requested row does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}

// IsAlreadyExists reports whether err is a uniqueness violation
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func validateRecord(record *types.SessionRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record id is required", types.ErrInvalidInput)
	}
	if !record.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", types.ErrInvalidInput, record.Status)
	}
	return nil
}

func validateContact(contact *types.Contact) error {
	if contact == nil || contact.ID == "" || contact.OwnerID == "" {
		return fmt.Errorf("%w: contact id and owner are required", types.ErrInvalidInput)
	}
	if types.NormalizePhone(contact.Phone) == "" {
		return fmt.Errorf("%w: contact phone is required", types.ErrInvalidInput)
	}
	return nil
}
