/*
Package types defines the core data structures used throughout sessionsync.

The package holds the domain model shared by the record store, the session
host client, the reconciliation engine and the provisioner:

  - SessionRecord: the database row that records tenant ownership of a
    WhatsApp session, its status and its connect/disconnect timestamps
  - RemoteSession: the session host's read-only view of a session
  - Contact: a tenant's CRM contact, used to attribute orphan sessions
  - ReconciliationSummary: the counters and action log of one cycle
  - CreationResult: the outcome of the dual creation protocol

# Session Status

	pending ──► creating ──► waiting_qr ──► ready
	               │              │           │
	               ▼              ▼           ▼
	           degraded      disconnected ◄───┘
	               │
	               └──(retry)──► creating

A record in "degraded" represents a creation request whose remote side has
not succeeded yet. Reconciliation never deletes records; disconnection and
failure are status transitions.

# Invariants

  - RemoteSessionID identifies at most one SessionRecord
  - Status "ready" implies Phone is set
  - "degraded" records are retained until a tenant deletes them

# Errors

errors.go declares the sentinel taxonomy (ErrTransport, ErrNotFound,
ErrOwnerInference, ErrStore, ErrConfiguration). Packages wrap these with
fmt.Errorf and %w so callers classify failures with errors.Is.
*/
package types
