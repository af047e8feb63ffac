package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/sessionsync/pkg/types"
)

// MemoryStore is a process-local Store used by tests and the memory:// DSN
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*types.SessionRecord
	remote   map[string]string
	contacts map[string]*types.Contact
	cycles   []*types.ReconciliationSummary
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*types.SessionRecord),
		remote:   make(map[string]string),
		contacts: make(map[string]*types.Contact),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateRecord(ctx context.Context, record *types.SessionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return ErrAlreadyExists
	}
	if record.RemoteSessionID != "" {
		if _, taken := s.remote[record.RemoteSessionID]; taken {
			return ErrAlreadyExists
		}
	}

	stored := record.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[stored.ID] = stored
	if stored.RemoteSessionID != "" {
		s.remote[stored.RemoteSessionID] = stored.ID
	}
	record.CreatedAt, record.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*types.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryStore) GetRecordByRemoteID(ctx context.Context, remoteSessionID string) (*types.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.remote[remoteSessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.records[id].Clone(), nil
}

func (s *MemoryStore) ListRecords(ctx context.Context) ([]*types.SessionRecord, error) {
	return s.filter(func(*types.SessionRecord) bool { return true }), nil
}

func (s *MemoryStore) ListByType(ctx context.Context, connectionType types.ConnectionType) ([]*types.SessionRecord, error) {
	return s.filter(func(r *types.SessionRecord) bool { return r.ConnectionType == connectionType }), nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.SessionRecord, error) {
	return s.filter(func(r *types.SessionRecord) bool { return r.OwnerID == ownerID }), nil
}

func (s *MemoryStore) filter(keep func(*types.SessionRecord) bool) []*types.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*types.SessionRecord
	for _, record := range s.records {
		if keep(record) {
			records = append(records, record.Clone())
		}
	}
	sortRecords(records)
	return records
}

func (s *MemoryStore) UpdateRecord(ctx context.Context, record *types.SessionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.ID]
	if !ok {
		return ErrNotFound
	}
	if record.RemoteSessionID != existing.RemoteSessionID && record.RemoteSessionID != "" {
		if _, taken := s.remote[record.RemoteSessionID]; taken {
			return ErrAlreadyExists
		}
	}

	stored := record.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now()
	if existing.RemoteSessionID != "" {
		delete(s.remote, existing.RemoteSessionID)
	}
	if stored.RemoteSessionID != "" {
		s.remote[stored.RemoteSessionID] = stored.ID
	}
	s.records[stored.ID] = stored
	return nil
}

func (s *MemoryStore) UpsertStatus(ctx context.Context, id string, update types.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	update.Apply(record, s.now())
	return nil
}

func (s *MemoryStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if record.RemoteSessionID != "" {
		delete(s.remote, record.RemoteSessionID)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) CreateContact(ctx context.Context, contact *types.Contact) error {
	if err := validateContact(contact); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contacts[contact.ID]; exists {
		return ErrAlreadyExists
	}
	stored := *contact
	stored.Phone = types.NormalizePhone(contact.Phone)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.contacts[stored.ID] = &stored
	return nil
}

func (s *MemoryStore) FindOwnerByPhone(ctx context.Context, phone string) (string, error) {
	phone = types.NormalizePhone(phone)
	if phone == "" {
		return "", nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owners []string
	for _, contact := range s.contacts {
		if contact.Phone == phone {
			owners = append(owners, contact.OwnerID)
		}
	}
	return singleOwner(owners), nil
}

func (s *MemoryStore) RecordCycle(ctx context.Context, summary *types.ReconciliationSummary) error {
	if summary == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *summary
	stored.Actions = append([]string(nil), summary.Actions...)
	s.cycles = append(s.cycles, &stored)
	return nil
}

func (s *MemoryStore) ListCycles(ctx context.Context, limit int) ([]*types.ReconciliationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cycles []*types.ReconciliationSummary
	for i := len(s.cycles) - 1; i >= 0; i-- {
		if limit > 0 && len(cycles) >= limit {
			break
		}
		c := *s.cycles[i]
		cycles = append(cycles, &c)
	}
	return cycles, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

// sortRecords orders records oldest first, ties broken by ID
func sortRecords(records []*types.SessionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// singleOwner returns the owner when every match agrees on one tenant.
// Conflicting matches are treated as no match.
func singleOwner(owners []string) string {
	owner := ""
	for _, o := range owners {
		if o == "" {
			continue
		}
		if owner != "" && owner != o {
			return ""
		}
		owner = o
	}
	return owner
}
