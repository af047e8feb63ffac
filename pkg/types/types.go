package types

import (
	"strings"
	"time"
)

// SessionStatus represents the lifecycle state of a tenant-owned session
type SessionStatus string

const (
	SessionStatusPending      SessionStatus = "pending"
	SessionStatusCreating     SessionStatus = "creating"
	SessionStatusWaitingQR    SessionStatus = "waiting_qr"
	SessionStatusReady        SessionStatus = "ready"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusFailed       SessionStatus = "failed"

	// SessionStatusDegraded marks a record whose remote creation failed.
	// The row is kept so the tenant's intent survives until a retry.
	SessionStatusDegraded SessionStatus = "degraded"
)

// Valid reports whether s is one of the known statuses
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusCreating, SessionStatusWaitingQR,
		SessionStatusReady, SessionStatusDisconnected, SessionStatusFailed,
		SessionStatusDegraded:
		return true
	}
	return false
}

// ConnectionType identifies how a session is connected to WhatsApp
type ConnectionType string

const (
	ConnectionTypeWeb ConnectionType = "web"
)

// SessionRecord is the database row describing one tenant-owned session.
// An empty RemoteSessionID means remote creation has not been requested yet.
type SessionRecord struct {
	ID              string         `json:"id" yaml:"id"`
	RemoteSessionID string         `json:"remote_session_id,omitempty" yaml:"remote_session_id,omitempty"`
	OwnerID         string         `json:"owner_id" yaml:"owner_id"`
	DisplayName     string         `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	ConnectionType  ConnectionType `json:"connection_type" yaml:"connection_type"`
	Phone           string         `json:"phone,omitempty" yaml:"phone,omitempty"`
	ProfileName     string         `json:"profile_name,omitempty" yaml:"profile_name,omitempty"`
	Status          SessionStatus  `json:"status" yaml:"status"`
	LastError       string         `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	ConnectedAt     *time.Time     `json:"connected_at,omitempty" yaml:"connected_at,omitempty"`
	DisconnectedAt  *time.Time     `json:"disconnected_at,omitempty" yaml:"disconnected_at,omitempty"`
	LastSyncedAt    *time.Time     `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy of the record
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ConnectedAt = cloneTime(r.ConnectedAt)
	c.DisconnectedAt = cloneTime(r.DisconnectedAt)
	c.LastSyncedAt = cloneTime(r.LastSyncedAt)
	return &c
}

// StatusUpdate describes a single-row status write. Nil timestamps and empty
// strings leave the stored value untouched.
type StatusUpdate struct {
	Status         SessionStatus
	Phone          string
	ProfileName    string
	LastError      string
	ClearError     bool
	ConnectedAt    *time.Time
	DisconnectedAt *time.Time
	LastSyncedAt   *time.Time
}

// Apply writes the update onto rec and stamps UpdatedAt
func (u StatusUpdate) Apply(rec *SessionRecord, now time.Time) {
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.Phone != "" {
		rec.Phone = u.Phone
	}
	if u.ProfileName != "" {
		rec.ProfileName = u.ProfileName
	}
	if u.ClearError {
		rec.LastError = ""
	}
	if u.LastError != "" {
		rec.LastError = u.LastError
	}
	if u.ConnectedAt != nil {
		rec.ConnectedAt = cloneTime(u.ConnectedAt)
	}
	if u.DisconnectedAt != nil {
		rec.DisconnectedAt = cloneTime(u.DisconnectedAt)
	}
	if u.LastSyncedAt != nil {
		rec.LastSyncedAt = cloneTime(u.LastSyncedAt)
	}
	rec.UpdatedAt = now
}

// RemoteSession is the session host's view of one session. It has no local
// identity and is never cached beyond a single reconciliation cycle.
type RemoteSession struct {
	ID          string `json:"id" yaml:"id"`
	RawStatus   string `json:"status" yaml:"status"`
	Phone       string `json:"phone,omitempty" yaml:"phone,omitempty"`
	ProfileName string `json:"profile_name,omitempty" yaml:"profile_name,omitempty"`
}

// Contact is a tenant-owned CRM contact, used to attribute orphan sessions
// to an owner by phone number.
type Contact struct {
	ID        string    `json:"id" yaml:"id"`
	OwnerID   string    `json:"owner_id" yaml:"owner_id"`
	Phone     string    `json:"phone" yaml:"phone"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// ReconciliationSummary is the result of one reconciliation cycle
type ReconciliationSummary struct {
	CycleID      string        `json:"cycle_id" yaml:"cycle_id"`
	Monitored    int           `json:"monitored" yaml:"monitored"`
	OrphansFound int           `json:"orphans_found" yaml:"orphans_found"`
	Adopted      int           `json:"adopted" yaml:"adopted"`
	Deleted      int           `json:"deleted" yaml:"deleted"`
	Updated      int           `json:"updated" yaml:"updated"`
	Retried      int           `json:"retried" yaml:"retried"`
	Unresolved   int           `json:"unresolved" yaml:"unresolved"`
	Errors       int           `json:"errors" yaml:"errors"`
	HostHealthy  bool          `json:"host_healthy" yaml:"host_healthy"`
	Incomplete   bool          `json:"incomplete" yaml:"incomplete"`
	Actions      []string      `json:"actions" yaml:"actions"`
	Timestamp    time.Time     `json:"timestamp" yaml:"timestamp"`
	Duration     time.Duration `json:"duration_ns" yaml:"duration"`
}

// CreationState tracks progress through the dual creation protocol
type CreationState string

const (
	CreationStateRequested             CreationState = "requested"
	CreationStateDBRecordCreated       CreationState = "db_record_created"
	CreationStateRemoteCreateAttempted CreationState = "remote_create_attempted"
	CreationStateDualSuccess           CreationState = "dual_success"
	CreationStateDBOnlyDegraded        CreationState = "db_only_degraded"
)

// CreationResult is returned to the tenant that requested a new session
type CreationResult struct {
	Status          CreationState `json:"status" yaml:"status"`
	RecordID        string        `json:"record_id" yaml:"record_id"`
	RemoteSessionID string        `json:"remote_session_id" yaml:"remote_session_id"`
	Error           string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// NormalizePhone reduces a phone number or WhatsApp JID to its digits
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if i := strings.IndexAny(phone, "@:"); i >= 0 {
		phone = phone[:i]
	}
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
