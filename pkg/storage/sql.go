package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/sessionsync/pkg/types"
)

const sqlOperationTimeout = 5 * time.Second

const recordColumns = `id, remote_session_id, owner_id, display_name, connection_type, phone,
	profile_name, status, last_error, connected_at, disconnected_at, last_synced_at, created_at, updated_at`

// dialect captures the differences between the SQL backends
type dialect struct {
	name              string
	positional        bool // $1-style placeholders
	isUniqueViolation func(error) bool
}

// sqlStore implements Store on database/sql. PostgresStore and SQLiteStore
// wrap it with their own connection setup and schema.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func (s *sqlStore) rebind(query string) string {
	if !s.dialect.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) CreateRecord(ctx context.Context, record *types.SessionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	query := `INSERT INTO session_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, query,
		record.ID, nullString(record.RemoteSessionID), record.OwnerID, record.DisplayName,
		string(record.ConnectionType), record.Phone, record.ProfileName, string(record.Status),
		record.LastError, nullTime(record.ConnectedAt), nullTime(record.DisconnectedAt),
		nullTime(record.LastSyncedAt), record.CreatedAt.UTC(), record.UpdatedAt)
	if err != nil && s.dialect.isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *sqlStore) GetRecord(ctx context.Context, id string) (*types.SessionRecord, error) {
	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM session_records WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return records[0], nil
}

func (s *sqlStore) GetRecordByRemoteID(ctx context.Context, remoteSessionID string) (*types.SessionRecord, error) {
	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM session_records WHERE remote_session_id = ?`, remoteSessionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("remote session %s: %w", remoteSessionID, ErrNotFound)
	}
	return records[0], nil
}

func (s *sqlStore) ListRecords(ctx context.Context) ([]*types.SessionRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM session_records ORDER BY created_at, id`)
}

func (s *sqlStore) ListByType(ctx context.Context, connectionType types.ConnectionType) ([]*types.SessionRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM session_records WHERE connection_type = ? ORDER BY created_at, id`, string(connectionType))
}

func (s *sqlStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.SessionRecord, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM session_records WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

func (s *sqlStore) queryRecords(ctx context.Context, query string, args ...any) ([]*types.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*types.SessionRecord
	for rows.Next() {
		var (
			record                                 types.SessionRecord
			remoteID                               sql.NullString
			connectionType, status                 string
			connectedAt, disconnectedAt, lastSynced sql.NullTime
		)
		if err := rows.Scan(&record.ID, &remoteID, &record.OwnerID, &record.DisplayName,
			&connectionType, &record.Phone, &record.ProfileName, &status, &record.LastError,
			&connectedAt, &disconnectedAt, &lastSynced, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}
		record.RemoteSessionID = remoteID.String
		record.ConnectionType = types.ConnectionType(connectionType)
		record.Status = types.SessionStatus(status)
		record.ConnectedAt = timePtr(connectedAt)
		record.DisconnectedAt = timePtr(disconnectedAt)
		record.LastSyncedAt = timePtr(lastSynced)
		records = append(records, &record)
	}
	return records, rows.Err()
}

func (s *sqlStore) UpdateRecord(ctx context.Context, record *types.SessionRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	record.UpdatedAt = s.now().UTC()

	query := `UPDATE session_records SET remote_session_id = ?, owner_id = ?, display_name = ?,
		connection_type = ?, phone = ?, profile_name = ?, status = ?, last_error = ?,
		connected_at = ?, disconnected_at = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.exec(ctx, query,
		nullString(record.RemoteSessionID), record.OwnerID, record.DisplayName,
		string(record.ConnectionType), record.Phone, record.ProfileName, string(record.Status),
		record.LastError, nullTime(record.ConnectedAt), nullTime(record.DisconnectedAt),
		nullTime(record.LastSyncedAt), record.UpdatedAt, record.ID)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return requireRow(result, record.ID)
}

func (s *sqlStore) UpsertStatus(ctx context.Context, id string, update types.StatusUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Status != "" {
		set("status", string(update.Status))
	}
	if update.Phone != "" {
		set("phone", update.Phone)
	}
	if update.ProfileName != "" {
		set("profile_name", update.ProfileName)
	}
	if update.LastError != "" {
		set("last_error", update.LastError)
	} else if update.ClearError {
		set("last_error", "")
	}
	if update.ConnectedAt != nil {
		set("connected_at", update.ConnectedAt.UTC())
	}
	if update.DisconnectedAt != nil {
		set("disconnected_at", update.DisconnectedAt.UTC())
	}
	if update.LastSyncedAt != nil {
		set("last_synced_at", update.LastSyncedAt.UTC())
	}
	set("updated_at", s.now().UTC())
	args = append(args, id)

	result, err := s.exec(ctx, `UPDATE session_records SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func (s *sqlStore) DeleteRecord(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM session_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func (s *sqlStore) CreateContact(ctx context.Context, contact *types.Contact) error {
	if err := validateContact(contact); err != nil {
		return err
	}
	createdAt := contact.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	_, err := s.exec(ctx, `INSERT INTO contacts (id, owner_id, phone, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		contact.ID, contact.OwnerID, types.NormalizePhone(contact.Phone), contact.Name, createdAt.UTC())
	if err != nil && s.dialect.isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *sqlStore) FindOwnerByPhone(ctx context.Context, phone string) (string, error) {
	phone = types.NormalizePhone(phone)
	if phone == "" {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT DISTINCT owner_id FROM contacts WHERE phone = ? LIMIT 2`), phone)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return "", err
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return singleOwner(owners), nil
}

func (s *sqlStore) RecordCycle(ctx context.Context, summary *types.ReconciliationSummary) error {
	if summary == nil {
		return nil
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	status := "success"
	switch {
	case summary.Incomplete:
		status = "incomplete"
	case summary.Errors > 0 || !summary.HostHealthy:
		status = "partial_success"
	}
	_, err = s.exec(ctx, `INSERT INTO sync_logs (cycle_id, status, result, recorded_at) VALUES (?, ?, ?, ?)`,
		summary.CycleID, status, string(payload), summary.Timestamp.UTC())
	return err
}

func (s *sqlStore) ListCycles(ctx context.Context, limit int) ([]*types.ReconciliationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT result FROM sync_logs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*types.ReconciliationSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var summary types.ReconciliationSummary
		if err := json.Unmarshal([]byte(payload), &summary); err != nil {
			return nil, err
		}
		cycles = append(cycles, &summary)
	}
	return cycles, rows.Err()
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func applySchema(ctx context.Context, db *sql.DB, statements []string) error {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
