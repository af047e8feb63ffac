package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/retry"
	"github.com/cuemby/sessionsync/pkg/sessionhost"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OrphanOutcome is what happened to one orphan session
type OrphanOutcome string

const (
	OrphanAdopted     OrphanOutcome = "adopted"
	OrphanReconnected OrphanOutcome = "reconnected"
	OrphanDeleted     OrphanOutcome = "deleted"
	OrphanGone        OrphanOutcome = "already_gone"
	OrphanClaimed     OrphanOutcome = "already_claimed"
	OrphanUnresolved  OrphanOutcome = "unresolved"
	OrphanFailed      OrphanOutcome = "failed"
)

// OrphanResult reports the resolution of one orphan
type OrphanResult struct {
	Outcome  OrphanOutcome
	RecordID string
	OwnerID  string
	Action   string
	Err      error
}

// OrphanConfig tunes orphan resolution
type OrphanConfig struct {
	// DefaultOwnerID adopts connected orphans whose phone matches no
	// contact. Empty leaves them unresolved.
	DefaultOwnerID string

	// ReconnectDelay is the wait before the single confirmation probe of a
	// disconnected orphan
	ReconnectDelay time.Duration
}

// OrphanResolver decides the fate of sessions that exist on the host but
// have no record: adopt connected ones into a tenant, delete dead ones.
type OrphanResolver struct {
	host   sessionhost.Client
	store  storage.Store
	cfg    OrphanConfig
	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewOrphanResolver creates a resolver
func NewOrphanResolver(host sessionhost.Client, store storage.Store, cfg OrphanConfig) *OrphanResolver {
	return &OrphanResolver{
		host:   host,
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("orphans"),
		now:    time.Now,
		sleep:  retry.Sleep,
	}
}

// Resolve handles one orphan entry. It never panics and never returns an
// error directly; failures come back as OrphanFailed with Err set.
func (o *OrphanResolver) Resolve(ctx context.Context, entry PlanEntry) OrphanResult {
	logger := log.WithSessionID(o.logger, entry.RemoteSessionID)

	if IsConnected(entry.RawStatus) {
		return o.adopt(ctx, logger, entry.RemoteSessionID, entry.Phone, entry.ProfileName, OrphanAdopted)
	}

	// One confirmation check before deleting anything
	if err := o.sleep(ctx, o.cfg.ReconnectDelay); err != nil {
		return o.failed(logger, entry.RemoteSessionID, "reconnect check", err)
	}
	state, err := o.host.SendProbe(ctx, entry.RemoteSessionID)
	if err != nil {
		if sessionhost.IsNotFound(err) {
			logger.Debug().Msg("Orphan session disappeared before cleanup")
			return OrphanResult{Outcome: OrphanGone, Action: fmt.Sprintf("orphan %s already gone from host", entry.RemoteSessionID)}
		}
		return o.failed(logger, entry.RemoteSessionID, "reconnect check", err)
	}
	if IsConnected(state.Status) {
		phone := state.Phone
		if phone == "" {
			phone = entry.Phone
		}
		profile := state.ProfileName
		if profile == "" {
			profile = entry.ProfileName
		}
		return o.adopt(ctx, logger, entry.RemoteSessionID, phone, profile, OrphanReconnected)
	}

	if err := o.host.DeleteSession(ctx, entry.RemoteSessionID); err != nil {
		if sessionhost.IsNotFound(err) {
			return OrphanResult{Outcome: OrphanGone, Action: fmt.Sprintf("orphan %s already gone from host", entry.RemoteSessionID)}
		}
		return o.failed(logger, entry.RemoteSessionID, "delete", err)
	}
	logger.Info().Str("raw_status", state.Status).Msg("Deleted dead orphan session from host")
	return OrphanResult{Outcome: OrphanDeleted, Action: fmt.Sprintf("deleted orphan %s (status %s)", entry.RemoteSessionID, state.Status)}
}

func (o *OrphanResolver) adopt(ctx context.Context, logger zerolog.Logger, remoteID, rawPhone, profile string, outcome OrphanOutcome) OrphanResult {
	phone := types.NormalizePhone(rawPhone)
	if phone == "" {
		logger.Warn().Msg("Connected orphan has no phone, leaving unresolved")
		return OrphanResult{
			Outcome: OrphanUnresolved,
			Action:  fmt.Sprintf("unresolved orphan %s: no phone reported", remoteID),
			Err:     fmt.Errorf("orphan %s: %w: no phone", remoteID, types.ErrOwnerInference),
		}
	}

	owner, err := o.store.FindOwnerByPhone(ctx, phone)
	if err != nil {
		return o.failed(logger, remoteID, "owner lookup", types.StoreError("find owner by phone", err))
	}
	if owner == "" {
		owner = o.cfg.DefaultOwnerID
	}
	if owner == "" {
		logger.Warn().Str("phone", phone).Msg("No owner found for orphan, leaving unresolved")
		return OrphanResult{
			Outcome: OrphanUnresolved,
			Action:  fmt.Sprintf("unresolved orphan %s: no owner for phone %s", remoteID, phone),
			Err:     fmt.Errorf("orphan %s: %w", remoteID, types.ErrOwnerInference),
		}
	}

	now := o.now()
	displayName := profile
	if displayName == "" {
		displayName = phone
	}
	record := &types.SessionRecord{
		ID:              uuid.New().String(),
		RemoteSessionID: remoteID,
		OwnerID:         owner,
		DisplayName:     displayName,
		ConnectionType:  types.ConnectionTypeWeb,
		Phone:           phone,
		ProfileName:     profile,
		Status:          types.SessionStatusReady,
		ConnectedAt:     &now,
		LastSyncedAt:    &now,
	}
	if err := o.store.CreateRecord(ctx, record); err != nil {
		if storage.IsAlreadyExists(err) {
			logger.Debug().Msg("Orphan already adopted by another writer")
			return OrphanResult{Outcome: OrphanClaimed, Action: fmt.Sprintf("orphan %s already has a record", remoteID)}
		}
		return o.failed(logger, remoteID, "adopt", types.StoreError("create record", err))
	}

	logger.Info().
		Str("record_id", record.ID).
		Str("owner_id", owner).
		Str("outcome", string(outcome)).
		Msg("Adopted orphan session")
	return OrphanResult{
		Outcome:  outcome,
		RecordID: record.ID,
		OwnerID:  owner,
		Action:   fmt.Sprintf("%s orphan %s as %s for owner %s", outcome, remoteID, record.ID, owner),
	}
}

func (o *OrphanResolver) failed(logger zerolog.Logger, remoteID, step string, err error) OrphanResult {
	logger.Error().Err(err).Str("step", step).Msg("Failed to resolve orphan session")
	return OrphanResult{
		Outcome: OrphanFailed,
		Action:  fmt.Sprintf("error on orphan %s during %s: %v", remoteID, step, err),
		Err:     err,
	}
}
