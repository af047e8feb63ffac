/*
Package log provides structured logging for sessionsync using zerolog.

A single package-level Logger is configured once by Init and shared by every
package. Components derive child loggers carrying a "component" field and,
where relevant, the identifiers of what they are working on:

	logger := log.WithComponent("reconciler")
	cycleLog := log.WithCycleID(logger, summary.CycleID)
	cycleLog.Info().Int("orphans", n).Msg("Resolving orphans")

	sessLog := log.WithSessionID(logger, "abc123")
	sessLog.Warn().Err(err).Msg("Failed to delete orphan session")

# Output

JSONOutput selects one JSON object per line, suitable for log shipping;
otherwise a human-readable console writer is used:

	{"level":"info","component":"reconciler","cycle_id":"6b1f...","time":"2026-01-10T10:30:00Z","message":"Reconciliation cycle completed"}

	2026-01-10T10:30:00Z INF Reconciliation cycle completed component=reconciler cycle_id=6b1f...

SetLevel changes the global level in place; the serve command calls it
when the config file is edited.
*/
package log
