/*
Package reconciler keeps the session host and the record store in
agreement.

Each cycle lists the host's sessions and the store's records, classifies
every session with ComputePlan, and resolves the differences:

	┌─────────────── RECONCILIATION CYCLE ────────────────┐
	│                                                      │
	│  host.ListSessions ──┐                               │
	│                      ├──► ComputePlan ──► Plan       │
	│  store.ListByType ───┘                    │          │
	│                                           ▼          │
	│  orphan_on_remote   ──► OrphanResolver               │
	│                          adopt | probe → delete      │
	│  status_drift       ──► StatusSynchronizer           │
	│  missing_on_remote  ──► StatusSynchronizer           │
	│                          → disconnected              │
	│  in_sync            ──► nothing                      │
	│                                           │          │
	│                                           ▼          │
	│  summary ──► store.RecordCycle, metrics, broker      │
	└──────────────────────────────────────────────────────┘

# Orphans

A connected orphan with a phone is adopted: the phone is matched against
CRM contacts (or the configured default owner) and a ready record is
created. An orphan whose owner cannot be determined is left alone and
reported as unresolved. A disconnected orphan gets one confirmation probe
after ReconnectDelay; if it is still not connected it is deleted from the
host. A probe that fails deletes nothing.

# Degraded mode

When the host cannot be listed no plan is computed. Nothing is adopted or
deleted; ready and waiting_qr records are marked disconnected instead.
Records in "degraded" status are never removed by a cycle.

# Concurrency

Only one cycle runs at a time; RunCycle returns ErrCycleInProgress to a
second caller. Within a cycle, orphans and then status writes are
processed by an errgroup bounded to Config.Workers. Each plan entry is a
distinct session, so no two workers touch the same session. The cycle is
bounded by Config.CycleTimeout; entries not started by then are reported
and the summary is marked Incomplete.

Per-session failures are counted in Errors and logged with the session
and record IDs; they never abort the cycle. RunCycle always returns a
summary except when another cycle is running.

# Usage

	r, err := reconciler.NewReconciler(host, store, broker, reconciler.DefaultConfig())
	if err != nil {
		return err
	}
	r.Start()
	defer r.Stop()

	summary, err := r.RunCycle(ctx)   // on demand
	plan, healthy, err := r.Plan(ctx) // dry run
*/
package reconciler
