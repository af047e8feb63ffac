/*
Package storage persists session records, CRM contacts and reconciliation
history for sessionsync.

The Store interface is the record store that the reconciliation engine and
the provisioner write through. Every write touches exactly one row; there
are no cross-row transactions, and concurrent writers are ordered by the
backend (last write wins).

# Backends

	┌────────────────────── STORE BACKENDS ───────────────────────┐
	│                                                               │
	│  Open(ctx, dsn)                                               │
	│     │                                                         │
	│     ├── memory://            MemoryStore  (tests, dry runs)    │
	│     ├── bolt:///path.db      BoltStore    (default, embedded)  │
	│     ├── sqlite:///path.db    SQLiteStore  (single file, SQL)   │
	│     └── postgres://...       PostgresStore (shared CRM db)     │
	│                                                               │
	│  BoltStore buckets:                                           │
	│     records        record ID      → SessionRecord (JSON)      │
	│     remote_index   remote ID      → record ID                 │
	│     contacts       contact ID     → Contact (JSON)            │
	│     cycles         sequence       → ReconciliationSummary     │
	│                                                               │
	│  SQL tables:                                                  │
	│     session_records   remote_session_id UNIQUE, nullable      │
	│     contacts          indexed by normalized phone             │
	│     sync_logs         one row per reconciliation cycle        │
	└───────────────────────────────────────────────────────────────┘

BoltStore keeps the remote_index bucket in step with records inside the same
bolt transaction, so a remote session ID can never be claimed by two rows.
The SQL backends rely on a UNIQUE constraint on remote_session_id; NULL
values (records whose remote side was never requested) do not collide.

SQL statements are written with ? placeholders and rebound to $n for
PostgreSQL. Each statement runs under a 5 second timeout derived from the
caller's context.

# Contacts

Phones are stored normalized (digits only, JID suffixes stripped).
FindOwnerByPhone returns the owner only when every matching contact agrees
on one tenant; no match and conflicting matches both return "".

# Errors

Absent rows return an error satisfying IsNotFound (and errors.Is with
types.ErrNotFound). Uniqueness violations on the record ID or the remote
session ID return ErrAlreadyExists.

# Usage

	store, err := storage.Open(ctx, "sqlite:///var/lib/sessionsync/sessions.db")
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListByType(ctx, types.ConnectionTypeWeb)
*/
package storage
