/*
Package api exposes sessionsync over HTTP.

The server is a net/http ServeMux with method-qualified patterns. Every
/v1 route except the session host webhook requires the configured bearer
token; /health, /ready and /metrics are public.

# Routes

	POST   /v1/reconcile                run one cycle now; 409 while a cycle is running
	GET    /v1/reconcile/plan           dry run: classified sessions, nothing changed
	GET    /v1/reconcile/history        persisted cycle summaries, ?limit=1..500
	GET    /v1/instances                all records, or ?owner=<id>
	POST   /v1/instances                {"owner_id", "display_name"}; 201 dual success, 202 degraded
	GET    /v1/instances/{id}
	POST   /v1/instances/{id}/retry     re-attempt remote creation of a degraded record
	DELETE /v1/instances/{id}           remote session best-effort, then the record
	POST   /v1/contacts                 {"owner_id", "phone", "name"}; used to attribute orphans
	POST   /v1/webhooks/session-host    {"session_id", "status", "phone", "profile_name"}

Request bodies are capped at MaxBodyBytes and validated against JSON
schemas before decoding.

# Errors

Non-2xx responses share one shape:

	{"code": "not_found", "message": "...", "correlationId": "..."}

The correlation id is taken from X-Correlation-Id or generated, and echoed
back in the same header.

# Session Host Webhook

With WebhookSecret set, the host must send X-Session-Host-Timestamp
(RFC3339) and X-Session-Host-Signature, the hex HMAC-SHA256 of the
timestamp, a newline and the raw body. Without a secret the route accepts
the API bearer token instead. Reports for sessions no record owns are
answered 202 and left to the next reconciliation cycle.
*/
package api
