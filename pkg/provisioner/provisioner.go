package provisioner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuemby/sessionsync/pkg/events"
	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/cuemby/sessionsync/pkg/sessionhost"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxDisplayName  = 100
	maxOwnerPrefix  = 32
	maxIDCollisions = 5
)

// CreateRequest asks for a new session owned by OwnerID
type CreateRequest struct {
	OwnerID     string `json:"owner_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Config tunes the coordinator
type Config struct {
	// WebhookURL is handed to the host so it can report status changes
	WebhookURL string
}

// Coordinator runs the DB-first creation protocol: the record is written
// before the host is contacted, and a failed remote creation leaves the
// record in "degraded" instead of removing it.
type Coordinator struct {
	host   sessionhost.Client
	store  storage.Store
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewCoordinator creates a coordinator
func NewCoordinator(host sessionhost.Client, store storage.Store, broker *events.Broker, cfg Config) (*Coordinator, error) {
	if host == nil {
		return nil, &types.ConfigurationError{Field: "host", Reason: "session host client is required"}
	}
	if store == nil {
		return nil, &types.ConfigurationError{Field: "store", Reason: "record store is required"}
	}
	return &Coordinator{
		host:   host,
		store:  store,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("provisioner"),
		now:    time.Now,
	}, nil
}

// CreateInstance creates the record and then the remote session. A host
// failure is not an error: the result reports db_only_degraded and the
// record is kept. An error means nothing was written.
func (c *Coordinator) CreateInstance(ctx context.Context, req CreateRequest) (*types.CreationResult, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := validate(req); err != nil {
		return nil, err
	}
	c.trace("", types.CreationStateRequested)

	record, err := c.insertRecord(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := log.WithSessionID(log.WithRecordID(c.logger, record.ID), record.RemoteSessionID)
	c.trace(record.ID, types.CreationStateDBRecordCreated)

	_, hostErr := c.host.CreateSession(ctx, record.RemoteSessionID, c.sessionConfig(record))
	c.trace(record.ID, types.CreationStateRemoteCreateAttempted)
	if hostErr != nil && !sessionhost.IsAlreadyExists(hostErr) {
		return c.degrade(ctx, logger, record, hostErr), nil
	}

	metrics.InstancesCreatedTotal.WithLabelValues(string(types.CreationStateDualSuccess)).Inc()
	logger.Info().Str("owner_id", record.OwnerID).Msg("Instance created")
	c.broker.Publish(&events.Event{
		Type:    events.EventInstanceCreated,
		Message: fmt.Sprintf("instance %s created for owner %s", record.ID, record.OwnerID),
		Metadata: map[string]string{
			"record_id":  record.ID,
			"session_id": record.RemoteSessionID,
			"owner_id":   record.OwnerID,
		},
	})
	return &types.CreationResult{
		Status:          types.CreationStateDualSuccess,
		RecordID:        record.ID,
		RemoteSessionID: record.RemoteSessionID,
	}, nil
}

// insertRecord writes the creating record, bumping the generated remote
// session ID when it collides with an existing one
func (c *Coordinator) insertRecord(ctx context.Context, req CreateRequest) (*types.SessionRecord, error) {
	millis := c.now().UnixMilli()
	for attempt := 0; attempt < maxIDCollisions; attempt++ {
		remoteID := RemoteSessionID(req.OwnerID, millis+int64(attempt))

		if _, err := c.store.GetRecordByRemoteID(ctx, remoteID); err == nil {
			continue
		} else if !storage.IsNotFound(err) {
			return nil, types.StoreError("check remote session id", err)
		}

		record := &types.SessionRecord{
			ID:              uuid.New().String(),
			RemoteSessionID: remoteID,
			OwnerID:         req.OwnerID,
			DisplayName:     req.DisplayName,
			ConnectionType:  types.ConnectionTypeWeb,
			Status:          types.SessionStatusCreating,
		}
		err := c.store.CreateRecord(ctx, record)
		if err == nil {
			return record, nil
		}
		if !storage.IsAlreadyExists(err) {
			return nil, types.StoreError("create record", err)
		}
	}
	return nil, types.StoreError("create record", fmt.Errorf("no free remote session id after %d attempts", maxIDCollisions))
}

// degrade marks the record degraded after a failed remote creation
func (c *Coordinator) degrade(ctx context.Context, logger zerolog.Logger, record *types.SessionRecord, hostErr error) *types.CreationResult {
	logger.Warn().Err(hostErr).Msg("Remote session creation failed, record kept as degraded")

	update := types.StatusUpdate{Status: types.SessionStatusDegraded, LastError: hostErr.Error()}
	if err := c.store.UpsertStatus(context.WithoutCancel(ctx), record.ID, update); err != nil {
		logger.Error().Err(err).Msg("Failed to mark record degraded")
	}

	metrics.InstancesCreatedTotal.WithLabelValues(string(types.CreationStateDBOnlyDegraded)).Inc()
	c.broker.Publish(&events.Event{
		Type:    events.EventInstanceDegraded,
		Message: hostErr.Error(),
		Metadata: map[string]string{
			"record_id":  record.ID,
			"session_id": record.RemoteSessionID,
			"owner_id":   record.OwnerID,
		},
	})
	return &types.CreationResult{
		Status:          types.CreationStateDBOnlyDegraded,
		RecordID:        record.ID,
		RemoteSessionID: record.RemoteSessionID,
		Error:           hostErr.Error(),
	}
}

// RetryRemote re-attempts remote creation for a degraded record with its
// original remote session ID. On success the record moves to creating.
func (c *Coordinator) RetryRemote(ctx context.Context, recordID string) (*types.CreationResult, error) {
	record, err := c.store.GetRecord(ctx, recordID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("record %s: %w", recordID, types.ErrNotFound)
		}
		return nil, types.StoreError("get record", err)
	}
	if record.Status != types.SessionStatusDegraded {
		return nil, fmt.Errorf("%w: record %s is %s, not degraded", types.ErrInvalidInput, recordID, record.Status)
	}
	if record.RemoteSessionID == "" {
		record.RemoteSessionID = RemoteSessionID(record.OwnerID, c.now().UnixMilli())
		if err := c.store.UpdateRecord(ctx, record); err != nil {
			return nil, types.StoreError("assign remote session id", err)
		}
	}
	logger := log.WithSessionID(log.WithRecordID(c.logger, record.ID), record.RemoteSessionID)

	_, hostErr := c.host.CreateSession(ctx, record.RemoteSessionID, c.sessionConfig(record))
	if hostErr != nil && !sessionhost.IsAlreadyExists(hostErr) {
		logger.Warn().Err(hostErr).Msg("Degraded retry failed")
		if err := c.store.UpsertStatus(ctx, record.ID, types.StatusUpdate{LastError: hostErr.Error()}); err != nil {
			logger.Error().Err(err).Msg("Failed to record retry error")
		}
		return &types.CreationResult{
			Status:          types.CreationStateDBOnlyDegraded,
			RecordID:        record.ID,
			RemoteSessionID: record.RemoteSessionID,
			Error:           hostErr.Error(),
		}, nil
	}

	if err := c.store.UpsertStatus(ctx, record.ID, types.StatusUpdate{Status: types.SessionStatusCreating, ClearError: true}); err != nil {
		return nil, types.StoreError("upsert status", err)
	}
	logger.Info().Msg("Degraded instance recovered")
	c.broker.Publish(&events.Event{
		Type: events.EventInstanceRetried,
		Metadata: map[string]string{
			"record_id":  record.ID,
			"session_id": record.RemoteSessionID,
			"owner_id":   record.OwnerID,
		},
	})
	return &types.CreationResult{
		Status:          types.CreationStateDualSuccess,
		RecordID:        record.ID,
		RemoteSessionID: record.RemoteSessionID,
	}, nil
}

// DeleteInstance removes the remote session, best-effort, and then the
// record. A host failure is logged and does not keep the record.
func (c *Coordinator) DeleteInstance(ctx context.Context, recordID string) error {
	record, err := c.store.GetRecord(ctx, recordID)
	if err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("record %s: %w", recordID, types.ErrNotFound)
		}
		return types.StoreError("get record", err)
	}
	logger := log.WithRecordID(c.logger, record.ID)

	if record.RemoteSessionID != "" {
		if err := c.host.DeleteSession(ctx, record.RemoteSessionID); err != nil && !sessionhost.IsNotFound(err) {
			logger.Warn().Err(err).Str("session_id", record.RemoteSessionID).Msg("Failed to delete remote session, removing record anyway")
		}
	}

	if err := c.store.DeleteRecord(ctx, record.ID); err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("record %s: %w", recordID, types.ErrNotFound)
		}
		return types.StoreError("delete record", err)
	}

	logger.Info().Str("session_id", record.RemoteSessionID).Msg("Instance deleted")
	c.broker.Publish(&events.Event{
		Type: events.EventInstanceDeleted,
		Metadata: map[string]string{
			"record_id":  record.ID,
			"session_id": record.RemoteSessionID,
			"owner_id":   record.OwnerID,
		},
	})
	return nil
}

func (c *Coordinator) sessionConfig(record *types.SessionRecord) sessionhost.SessionConfig {
	return sessionhost.SessionConfig{
		OwnerID:     record.OwnerID,
		DisplayName: record.DisplayName,
		WebhookURL:  c.cfg.WebhookURL,
	}
}

func (c *Coordinator) trace(recordID string, state types.CreationState) {
	c.logger.Debug().Str("record_id", recordID).Str("state", string(state)).Msg("Creation state")
}

func validate(req CreateRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner_id is required", types.ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.DisplayName) > maxDisplayName {
		return fmt.Errorf("%w: display_name exceeds %d characters", types.ErrInvalidInput, maxDisplayName)
	}
	return nil
}

// RemoteSessionID derives the host session ID from the owner and a unix
// millisecond timestamp
func RemoteSessionID(ownerID string, unixMillis int64) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ownerID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_' || r == '.' || r == ' ':
			b.WriteByte('-')
		}
		if b.Len() >= maxOwnerPrefix {
			break
		}
	}
	prefix := strings.Trim(b.String(), "-")
	if prefix == "" {
		prefix = "session"
	}
	return prefix + "-" + strconv.FormatInt(unixMillis, 10)
}
