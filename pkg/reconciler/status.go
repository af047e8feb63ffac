package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/rs/zerolog"
)

// CreationGrace is how long a creating record may be absent from the host
// before it is treated as missing. It exceeds the host client's worst-case
// create retry window.
const CreationGrace = 5 * time.Minute

// StatusSynchronizer writes normalized statuses and their timestamps onto
// existing records. It never creates or deletes rows.
type StatusSynchronizer struct {
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewStatusSynchronizer creates a synchronizer
func NewStatusSynchronizer(store storage.Store) *StatusSynchronizer {
	return &StatusSynchronizer{
		store:  store,
		logger: log.WithComponent("status-sync"),
		now:    time.Now,
	}
}

// Apply writes a status_drift or missing_on_remote entry. It reports
// whether the record changed; re-applying an entry is a no-op.
func (s *StatusSynchronizer) Apply(ctx context.Context, entry PlanEntry) (bool, error) {
	record, err := s.store.GetRecord(ctx, entry.RecordID)
	if err != nil {
		if storage.IsNotFound(err) {
			// deleted by the tenant since the plan was computed
			return false, nil
		}
		return false, types.StoreError("get record", err)
	}

	var target types.SessionStatus
	switch entry.Kind {
	case DiffMissingOnRemote:
		if record.Status == types.SessionStatusDegraded {
			// remote creation never succeeded; degraded retry owns it
			return false, nil
		}
		if record.Status == types.SessionStatusCreating && s.now().Sub(record.UpdatedAt) < CreationGrace {
			// remote creation still in flight
			return false, nil
		}
		target = types.SessionStatusDisconnected
	case DiffStatusDrift:
		target = targetStatus(entry.RawStatus, record, entry.Phone)
	default:
		return false, nil
	}

	return s.transition(ctx, record, target, entry.Phone, entry.ProfileName)
}

// ApplyRemote applies a live status report from the host to the record
// that owns the session. It returns types.ErrNotFound when no record
// references remote.ID.
func (s *StatusSynchronizer) ApplyRemote(ctx context.Context, remote types.RemoteSession) (*types.SessionRecord, bool, error) {
	record, err := s.store.GetRecordByRemoteID(ctx, remote.ID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, false, fmt.Errorf("remote session %s: %w", remote.ID, types.ErrNotFound)
		}
		return nil, false, types.StoreError("get record by remote id", err)
	}

	target := targetStatus(remote.RawStatus, record, remote.Phone)
	changed, err := s.transition(ctx, record, target, remote.Phone, remote.ProfileName)
	if err != nil || !changed {
		return record, changed, err
	}
	updated, err := s.store.GetRecord(ctx, record.ID)
	if err != nil {
		return record, true, nil
	}
	return updated, true, nil
}

// MarkDisconnected moves a ready or waiting_qr record to disconnected.
// Other statuses are left alone.
func (s *StatusSynchronizer) MarkDisconnected(ctx context.Context, record *types.SessionRecord) (bool, error) {
	if record.Status != types.SessionStatusReady && record.Status != types.SessionStatusWaitingQR {
		return false, nil
	}
	current, err := s.store.GetRecord(ctx, record.ID)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, types.StoreError("get record", err)
	}
	if current.Status != types.SessionStatusReady && current.Status != types.SessionStatusWaitingQR {
		return false, nil
	}
	return s.transition(ctx, current, types.SessionStatusDisconnected, "", "")
}

// transition writes target onto record when it differs from the stored
// status. disconnected_at is stamped on every move into disconnected and
// connected_at on the first move into ready.
func (s *StatusSynchronizer) transition(ctx context.Context, record *types.SessionRecord, target types.SessionStatus, phone, profile string) (bool, error) {
	phone = types.NormalizePhone(phone)
	if record.Status == target && !fillsGap(record.Phone, phone) && !fillsGap(record.ProfileName, profile) {
		return false, nil
	}

	now := s.now()
	update := types.StatusUpdate{LastSyncedAt: &now}
	if record.Status != target {
		update.Status = target
	}
	if phone != "" && phone != record.Phone {
		update.Phone = phone
	}
	if profile != "" && profile != record.ProfileName {
		update.ProfileName = profile
	}

	if record.Status != target {
		switch target {
		case types.SessionStatusDisconnected:
			update.DisconnectedAt = &now
		case types.SessionStatusReady:
			if record.ConnectedAt == nil {
				update.ConnectedAt = &now
			}
			update.ClearError = true
		}
	}

	if err := s.store.UpsertStatus(ctx, record.ID, update); err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, types.StoreError("upsert status", err)
	}

	recLog := log.WithRecordID(s.logger, record.ID)
	recLog.Debug().
		Str("session_id", record.RemoteSessionID).
		Str("from", string(record.Status)).
		Str("to", string(target)).
		Msg("Session status updated")
	return true, nil
}

func fillsGap(stored, reported string) bool {
	return stored == "" && reported != ""
}
