package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/sessionsync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRecords     = []byte("records")
	bucketRemoteIndex = []byte("remote_index")
	bucketContacts    = []byte("contacts")
	bucketCycles      = []byte("cycles")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the database file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketRemoteIndex, bucketContacts, bucketCycles} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is open and readable
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRecords) == nil {
			return fmt.Errorf("records bucket missing")
		}
		return nil
	})
}

// Record operations
func (s *BoltStore) CreateRecord(ctx context.Context, record *types.SessionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		idx := tx.Bucket(bucketRemoteIndex)
		if b.Get([]byte(record.ID)) != nil {
			return ErrAlreadyExists
		}
		if record.RemoteSessionID != "" && idx.Get([]byte(record.RemoteSessionID)) != nil {
			return ErrAlreadyExists
		}

		now := s.now()
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		record.UpdatedAt = now
		if err := putJSON(b, record.ID, record); err != nil {
			return err
		}
		if record.RemoteSessionID != "" {
			return idx.Put([]byte(record.RemoteSessionID), []byte(record.ID))
		}
		return nil
	})
}

func (s *BoltStore) GetRecord(ctx context.Context, id string) (*types.SessionRecord, error) {
	var record types.SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) GetRecordByRemoteID(ctx context.Context, remoteSessionID string) (*types.SessionRecord, error) {
	var record types.SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketRemoteIndex).Get([]byte(remoteSessionID))
		if id == nil {
			return fmt.Errorf("remote session %s: %w", remoteSessionID, ErrNotFound)
		}
		data := tx.Bucket(bucketRecords).Get(id)
		if data == nil {
			return fmt.Errorf("remote session %s: %w", remoteSessionID, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListRecords(ctx context.Context) ([]*types.SessionRecord, error) {
	return s.listRecords(func(*types.SessionRecord) bool { return true })
}

func (s *BoltStore) ListByType(ctx context.Context, connectionType types.ConnectionType) ([]*types.SessionRecord, error) {
	return s.listRecords(func(r *types.SessionRecord) bool { return r.ConnectionType == connectionType })
}

func (s *BoltStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.SessionRecord, error) {
	return s.listRecords(func(r *types.SessionRecord) bool { return r.OwnerID == ownerID })
}

func (s *BoltStore) listRecords(keep func(*types.SessionRecord) bool) ([]*types.SessionRecord, error) {
	var records []*types.SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var record types.SessionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if keep(&record) {
				records = append(records, &record)
			}
			return nil
		})
	})
	sortRecords(records)
	return records, err
}

func (s *BoltStore) UpdateRecord(ctx context.Context, record *types.SessionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		idx := tx.Bucket(bucketRemoteIndex)

		var existing types.SessionRecord
		if err := getJSON(b, record.ID, &existing); err != nil {
			return err
		}
		if record.RemoteSessionID != existing.RemoteSessionID {
			if record.RemoteSessionID != "" && idx.Get([]byte(record.RemoteSessionID)) != nil {
				return ErrAlreadyExists
			}
			if existing.RemoteSessionID != "" {
				if err := idx.Delete([]byte(existing.RemoteSessionID)); err != nil {
					return err
				}
			}
			if record.RemoteSessionID != "" {
				if err := idx.Put([]byte(record.RemoteSessionID), []byte(record.ID)); err != nil {
					return err
				}
			}
		}

		record.CreatedAt = existing.CreatedAt
		record.UpdatedAt = s.now()
		return putJSON(b, record.ID, record)
	})
}

func (s *BoltStore) UpsertStatus(ctx context.Context, id string, update types.StatusUpdate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		var record types.SessionRecord
		if err := getJSON(b, id, &record); err != nil {
			return err
		}
		update.Apply(&record, s.now())
		return putJSON(b, id, &record)
	})
}

func (s *BoltStore) DeleteRecord(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		var record types.SessionRecord
		if err := getJSON(b, id, &record); err != nil {
			return err
		}
		if record.RemoteSessionID != "" {
			if err := tx.Bucket(bucketRemoteIndex).Delete([]byte(record.RemoteSessionID)); err != nil {
				return err
			}
		}
		return b.Delete([]byte(id))
	})
}

// Contact operations
func (s *BoltStore) CreateContact(ctx context.Context, contact *types.Contact) error {
	if err := validateContact(contact); err != nil {
		return err
	}
	stored := *contact
	stored.Phone = types.NormalizePhone(contact.Phone)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContacts)
		if b.Get([]byte(stored.ID)) != nil {
			return ErrAlreadyExists
		}
		return putJSON(b, stored.ID, &stored)
	})
}

func (s *BoltStore) FindOwnerByPhone(ctx context.Context, phone string) (string, error) {
	phone = types.NormalizePhone(phone)
	if phone == "" {
		return "", nil
	}
	var owners []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContacts).ForEach(func(k, v []byte) error {
			var contact types.Contact
			if err := json.Unmarshal(v, &contact); err != nil {
				return err
			}
			if contact.Phone == phone {
				owners = append(owners, contact.OwnerID)
			}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return singleOwner(owners), nil
}

// Cycle history operations
func (s *BoltStore) RecordCycle(ctx context.Context, summary *types.ReconciliationSummary) error {
	if summary == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCycles)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

func (s *BoltStore) ListCycles(ctx context.Context, limit int) ([]*types.ReconciliationSummary, error) {
	var cycles []*types.ReconciliationSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCycles).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(cycles) >= limit {
				break
			}
			var summary types.ReconciliationSummary
			if err := json.Unmarshal(v, &summary); err != nil {
				return err
			}
			cycles = append(cycles, &summary)
		}
		return nil
	})
	return cycles, err
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
