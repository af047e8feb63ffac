package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/sessionsync/pkg/events"
	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/cuemby/sessionsync/pkg/sessionhost"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrCycleInProgress is returned when RunCycle is called while another
// cycle is running
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

const persistTimeout = 5 * time.Second

// Config tunes the reconciliation loop
type Config struct {
	Interval       time.Duration
	CycleTimeout   time.Duration
	Workers        int
	DefaultOwnerID string
	ReconnectDelay time.Duration
	RetryDegraded  bool
	ConnectionType types.ConnectionType
}

// DefaultConfig returns a 60s interval, 2m cycle deadline and 5 workers
func DefaultConfig() Config {
	return Config{
		Interval:       60 * time.Second,
		CycleTimeout:   2 * time.Minute,
		Workers:        5,
		ReconnectDelay: 2 * time.Second,
		ConnectionType: types.ConnectionTypeWeb,
	}
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return &types.ConfigurationError{Field: "reconcile.interval", Reason: "must be positive"}
	case c.CycleTimeout <= 0:
		return &types.ConfigurationError{Field: "reconcile.cycle_timeout", Reason: "must be positive"}
	case c.Workers <= 0:
		return &types.ConfigurationError{Field: "reconcile.workers", Reason: "must be positive"}
	case c.ReconnectDelay < 0:
		return &types.ConfigurationError{Field: "reconcile.reconnect_delay", Reason: "must not be negative"}
	case c.ConnectionType == "":
		return &types.ConfigurationError{Field: "reconcile.connection_type", Reason: "must not be empty"}
	}
	return nil
}

// DegradedRetrier re-attempts remote creation for a degraded record
type DegradedRetrier interface {
	RetryRemote(ctx context.Context, recordID string) (*types.CreationResult, error)
}

// Reconciler keeps the session host and the record store in agreement.
// Only one cycle runs at a time.
type Reconciler struct {
	host    sessionhost.Client
	store   storage.Store
	broker  *events.Broker
	orphans *OrphanResolver
	status  *StatusSynchronizer
	retrier DegradedRetrier

	mu       sync.RWMutex
	cfg      Config
	last     *types.ReconciliationSummary
	running  atomic.Bool
	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	resetCh  chan time.Duration
	stopOnce sync.Once

	logger zerolog.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler. A nil host or store, or an invalid
// config, is a configuration error.
func NewReconciler(host sessionhost.Client, store storage.Store, broker *events.Broker, cfg Config) (*Reconciler, error) {
	if host == nil {
		return nil, &types.ConfigurationError{Field: "host", Reason: "session host client is required"}
	}
	if store == nil {
		return nil, &types.ConfigurationError{Field: "store", Reason: "record store is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Reconciler{
		host:    host,
		store:   store,
		broker:  broker,
		orphans: NewOrphanResolver(host, store, OrphanConfig{DefaultOwnerID: cfg.DefaultOwnerID, ReconnectDelay: cfg.ReconnectDelay}),
		status:  NewStatusSynchronizer(store),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		resetCh: make(chan time.Duration, 1),
		logger:  log.WithComponent("reconciler"),
		now:     time.Now,
	}, nil
}

// SetDegradedRetrier enables degraded retry through r when Config.RetryDegraded is set
func (r *Reconciler) SetDegradedRetrier(retrier DegradedRetrier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrier = retrier
}

// StatusSynchronizer exposes the synchronizer for live host events
func (r *Reconciler) StatusSynchronizer() *StatusSynchronizer {
	return r.status
}

// Running reports whether a cycle is in progress
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// LastSummary returns the most recent cycle summary, or nil
func (r *Reconciler) LastSummary() *types.ReconciliationSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// SetInterval changes the loop interval, taking effect after the next tick
func (r *Reconciler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.cfg.Interval = d
	r.mu.Unlock()

	select {
	case r.resetCh <- d:
	default:
	}
}

func (r *Reconciler) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	if r.started.CompareAndSwap(false, true) {
		go r.run()
	}
}

// Stop stops the loop and waits for a running cycle to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.doneCh
	}
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config().Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				r.logger.Error().Err(err).Msg("Reconciliation cycle aborted")
			}
		case d := <-r.resetCh:
			ticker.Reset(d)
			r.logger.Info().Dur("interval", d).Msg("Reconciliation interval changed")
		case <-r.stopCh:
			return
		}
	}
}

// Plan computes what the next cycle would do without changing anything.
// healthy is false when the host could not be listed.
func (r *Reconciler) Plan(ctx context.Context) (*Plan, bool, error) {
	sessions, healthy := r.host.ListSessions(ctx)
	if !healthy {
		return &Plan{}, false, nil
	}
	records, err := r.store.ListByType(ctx, r.config().ConnectionType)
	if err != nil {
		return nil, true, types.StoreError("list records", err)
	}
	return ComputePlan(sessions, records), true, nil
}

// cycleTally accumulates per-entry results. Entries are written by index
// so the action log keeps plan order regardless of worker scheduling.
type cycleTally struct {
	actions   []string
	abandoned int
}

// RunCycle performs one reconciliation cycle and always returns a summary
// unless another cycle is already running.
func (r *Reconciler) RunCycle(ctx context.Context) (*types.ReconciliationSummary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer r.running.Store(false)

	cfg := r.config()
	timer := metrics.NewTimer()
	summary := &types.ReconciliationSummary{
		CycleID:   uuid.New().String(),
		Timestamp: r.now(),
		Actions:   []string{},
	}
	logger := log.WithCycleID(r.logger, summary.CycleID)

	cycleCtx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
	defer cancel()

	sessions, healthy := r.host.ListSessions(cycleCtx)
	summary.HostHealthy = healthy

	records, err := r.store.ListByType(cycleCtx, cfg.ConnectionType)
	if err != nil {
		err = types.StoreError("list records", err)
		logger.Error().Err(err).Msg("Failed to list session records")
		summary.Errors++
		summary.Incomplete = true
		summary.Actions = append(summary.Actions, fmt.Sprintf("error listing records: %v", err))
		return r.finish(ctx, logger, summary, timer), nil
	}

	if !healthy {
		r.runDegradedMode(cycleCtx, logger, records, summary, cfg)
		return r.finish(ctx, logger, summary, timer), nil
	}

	plan := ComputePlan(sessions, records)
	summary.Monitored = len(plan.Entries)
	summary.OrphansFound = plan.Count(DiffOrphanOnRemote)

	r.resolveOrphans(cycleCtx, plan.Filter(DiffOrphanOnRemote), summary, cfg)
	r.syncStatuses(cycleCtx, plan.Filter(DiffStatusDrift, DiffMissingOnRemote), summary, cfg)

	if cfg.RetryDegraded {
		r.retryDegraded(cycleCtx, logger, records, summary)
	}

	if cycleCtx.Err() != nil {
		summary.Incomplete = true
	}
	return r.finish(ctx, logger, summary, timer), nil
}

// runDegradedMode handles an unreachable host: nothing is adopted or
// deleted, and every ready or waiting_qr record is marked disconnected.
func (r *Reconciler) runDegradedMode(ctx context.Context, logger zerolog.Logger, records []*types.SessionRecord, summary *types.ReconciliationSummary, cfg Config) {
	logger.Warn().Int("records", len(records)).Msg("Session host unhealthy, marking connected sessions disconnected")
	summary.Monitored = len(records)
	summary.Actions = append(summary.Actions, "session host unreachable: degraded mode")

	var targets []*types.SessionRecord
	for _, rec := range records {
		if rec.Status == types.SessionStatusReady || rec.Status == types.SessionStatusWaitingQR {
			targets = append(targets, rec)
		}
	}

	results := make([]struct {
		changed bool
		err     error
		skipped bool
	}, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for i, rec := range targets {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i].skipped = true
				return nil
			}
			results[i].changed, results[i].err = r.status.MarkDisconnected(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		rec := targets[i]
		switch {
		case res.skipped:
			summary.Incomplete = true
		case res.err != nil:
			summary.Errors++
			summary.Actions = append(summary.Actions, fmt.Sprintf("error marking %s disconnected: %v", rec.ID, res.err))
			recLog := log.WithRecordID(logger, rec.ID)
			recLog.Error().Err(res.err).Msg("Failed to mark session disconnected")
		case res.changed:
			summary.Updated++
			summary.Actions = append(summary.Actions, fmt.Sprintf("marked %s disconnected (host unreachable)", rec.ID))
			r.publishStatus(rec.ID, rec.RemoteSessionID, types.SessionStatusDisconnected)
		}
	}
}

func (r *Reconciler) resolveOrphans(ctx context.Context, entries []PlanEntry, summary *types.ReconciliationSummary, cfg Config) {
	results := make([]OrphanResult, len(entries))
	skipped := make([]bool, len(entries))

	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for i, entry := range entries {
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped[i] = true
				return nil
			}
			results[i] = r.orphans.Resolve(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if skipped[i] {
			summary.Incomplete = true
			summary.Actions = append(summary.Actions, fmt.Sprintf("abandoned orphan %s at cycle deadline", entries[i].RemoteSessionID))
			continue
		}
		summary.Actions = append(summary.Actions, res.Action)
		switch res.Outcome {
		case OrphanAdopted, OrphanReconnected:
			summary.Adopted++
			r.broker.Publish(&events.Event{
				Type:    events.EventSessionAdopted,
				Message: res.Action,
				Metadata: map[string]string{
					"record_id":  res.RecordID,
					"session_id": entries[i].RemoteSessionID,
					"owner_id":   res.OwnerID,
				},
			})
		case OrphanDeleted:
			summary.Deleted++
			r.broker.Publish(&events.Event{
				Type:     events.EventSessionDeleted,
				Message:  res.Action,
				Metadata: map[string]string{"session_id": entries[i].RemoteSessionID},
			})
		case OrphanUnresolved:
			summary.Unresolved++
		case OrphanFailed:
			summary.Errors++
		}
	}
}

func (r *Reconciler) syncStatuses(ctx context.Context, entries []PlanEntry, summary *types.ReconciliationSummary, cfg Config) {
	type result struct {
		changed bool
		err     error
		skipped bool
	}
	results := make([]result, len(entries))

	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for i, entry := range entries {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i].skipped = true
				return nil
			}
			results[i].changed, results[i].err = r.status.Apply(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		entry := entries[i]
		switch {
		case res.skipped:
			summary.Incomplete = true
			summary.Actions = append(summary.Actions, fmt.Sprintf("abandoned %s at cycle deadline", entry.RecordID))
		case res.err != nil:
			summary.Errors++
			summary.Actions = append(summary.Actions, fmt.Sprintf("error updating %s: %v", entry.RecordID, res.err))
			recLog := log.WithRecordID(r.logger, entry.RecordID)
			recLog.Error().Err(res.err).Str("session_id", entry.RemoteSessionID).Msg("Failed to sync session status")
		case res.changed:
			summary.Updated++
			target := entry.TargetStatus
			if entry.Kind == DiffMissingOnRemote {
				summary.Actions = append(summary.Actions, fmt.Sprintf("marked %s disconnected (missing on host)", entry.RecordID))
			} else {
				summary.Actions = append(summary.Actions, fmt.Sprintf("updated %s %s -> %s", entry.RecordID, entry.CurrentStatus, target))
			}
			r.publishStatus(entry.RecordID, entry.RemoteSessionID, target)
		}
	}
}

// retryDegraded re-attempts remote creation for degraded records. A failed
// retry leaves the record degraded and is not counted as a cycle error.
func (r *Reconciler) retryDegraded(ctx context.Context, logger zerolog.Logger, records []*types.SessionRecord, summary *types.ReconciliationSummary) {
	r.mu.RLock()
	retrier := r.retrier
	r.mu.RUnlock()
	if retrier == nil {
		return
	}

	for _, rec := range records {
		if rec.Status != types.SessionStatusDegraded {
			continue
		}
		if ctx.Err() != nil {
			summary.Incomplete = true
			return
		}
		// the drift pass may already have moved it this cycle
		current, err := r.store.GetRecord(ctx, rec.ID)
		if err != nil {
			if !storage.IsNotFound(err) {
				recLog := log.WithRecordID(logger, rec.ID)
				recLog.Warn().Err(err).Msg("Failed to re-read degraded record")
			}
			continue
		}
		if current.Status != types.SessionStatusDegraded {
			continue
		}
		result, err := retrier.RetryRemote(ctx, rec.ID)
		if err != nil {
			recLog := log.WithRecordID(logger, rec.ID)
			recLog.Warn().Err(err).Msg("Degraded retry failed")
			summary.Actions = append(summary.Actions, fmt.Sprintf("retry of degraded %s failed: %v", rec.ID, err))
			continue
		}
		if result.Status == types.CreationStateDualSuccess {
			summary.Retried++
			summary.Actions = append(summary.Actions, fmt.Sprintf("retried degraded %s: remote session %s created", rec.ID, result.RemoteSessionID))
		}
	}
}

func (r *Reconciler) publishStatus(recordID, sessionID string, status types.SessionStatus) {
	r.broker.Publish(&events.Event{
		Type: events.EventSessionStatusChanged,
		Metadata: map[string]string{
			"record_id":  recordID,
			"session_id": sessionID,
			"status":     string(status),
		},
	})
}

// finish stamps the duration, records metrics, persists the summary and
// publishes it. Persistence is best-effort.
func (r *Reconciler) finish(ctx context.Context, logger zerolog.Logger, summary *types.ReconciliationSummary, timer *metrics.Timer) *types.ReconciliationSummary {
	summary.Duration = timer.Duration()
	timer.ObserveDuration(metrics.ReconciliationDuration)

	result := "ok"
	switch {
	case summary.Incomplete:
		result = "incomplete"
	case !summary.HostHealthy:
		result = "degraded"
	case summary.Errors > 0:
		result = "partial"
	}
	metrics.ReconciliationCyclesTotal.WithLabelValues(result).Inc()
	metrics.OrphansFound.Set(float64(summary.OrphansFound))
	if summary.HostHealthy {
		metrics.HostHealthy.Set(1)
	} else {
		metrics.HostHealthy.Set(0)
	}
	for action, n := range map[string]int{
		"adopted":    summary.Adopted,
		"deleted":    summary.Deleted,
		"updated":    summary.Updated,
		"retried":    summary.Retried,
		"unresolved": summary.Unresolved,
		"error":      summary.Errors,
	} {
		if n > 0 {
			metrics.ReconciliationActionsTotal.WithLabelValues(action).Add(float64(n))
		}
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.store.RecordCycle(persistCtx, summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to record reconciliation history")
	}

	r.broker.Publish(&events.Event{
		Type:     events.EventReconciliationCompleted,
		Message:  fmt.Sprintf("reconciliation %s", result),
		Metadata: map[string]string{"cycle_id": summary.CycleID, "result": result},
		Data:     summary,
	})

	r.mu.Lock()
	r.last = summary
	r.mu.Unlock()

	logger.Info().
		Str("result", result).
		Int("monitored", summary.Monitored).
		Int("orphans_found", summary.OrphansFound).
		Int("adopted", summary.Adopted).
		Int("deleted", summary.Deleted).
		Int("updated", summary.Updated).
		Int("errors", summary.Errors).
		Dur("duration", summary.Duration).
		Msg("Reconciliation cycle completed")
	return summary
}
