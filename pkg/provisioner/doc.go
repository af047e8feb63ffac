/*
Package provisioner creates and deletes tenant sessions on behalf of the
CRM.

Creation is DB-first. Every request walks the same states:

	requested ──► db_record_created ──► remote_create_attempted ──┬──► dual_success
	                                                               └──► db_only_degraded

The record is inserted with status "creating" and a remote session ID
derived from the owner and the current unix milliseconds before the host is
contacted, so an unreachable host still leaves a durable record of what the
tenant asked for. When the host call fails the record is moved to
"degraded" with the host error in last_error; it is never deleted. A host
answer of already_exists counts as success.

RetryRemote re-attempts a degraded record with its original remote session
ID. The reconciler calls it each cycle when degraded retry is enabled, and
the API exposes it as POST /v1/instances/{id}/retry.

DeleteInstance removes the remote session best-effort and then the record.
*/
package provisioner
