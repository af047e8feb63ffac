/*
Package sessionhost is the client for the remote WhatsApp session host.

The host runs one WhatsApp Web client per session and exposes a small REST
API. Every request carries a bearer token:

	GET    /sessions               {"sessions":[{"id","status","phone","profileName"}]}
	GET    /sessions/{id}/status   {"status"}
	POST   /sessions               {"id","status"}
	DELETE /sessions/{id}          {"success"}

# Failure handling

No operation panics or leaks a raw transport error. ListSessions reports an
unreachable host as healthy=false with an empty list, after the configured
attempt budget. Every other operation returns a *HostError carrying an
ErrorCode:

	transport, timeout     network failure or per-attempt deadline
	http_status            other non-2xx (429 and 5xx are retried)
	not_found              404, the session does not exist
	already_exists         409, the session id is taken
	unauthorized           401 or 403
	bad_response           unparseable body or success=false

Retries use pkg/retry with exponential backoff; 4xx responses and malformed
bodies are permanent. SendProbe makes exactly one attempt bounded by the
probe timeout and is used for the single reconnect confirmation check.

Callers treat already_exists on create and not_found on delete as success.

HostError satisfies errors.Is with types.ErrTransport for retryable
failures and types.ErrNotFound for not_found.

# Testing

Package sessionhosttest provides Host, an in-memory Client with
per-operation failure injection.
*/
package sessionhost
