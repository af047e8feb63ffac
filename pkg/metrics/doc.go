/*
Package metrics provides Prometheus metrics for sessionsync.

All collectors are package-level variables registered with the default
registry in init(), and exposed by Handler() on /metrics.

# Metrics Catalog

Record store:

	sessionsync_sessions_total{status}                 gauge, refreshed by Collector

Reconciliation:

	sessionsync_reconciliation_cycles_total{result}    ok | partial | degraded | incomplete
	sessionsync_reconciliation_duration_seconds        histogram
	sessionsync_reconciliation_actions_total{action}   adopted | deleted | updated | retried | unresolved
	sessionsync_orphans_found                          gauge, last cycle

Session host:

	sessionsync_host_healthy                           1 when the last listing succeeded
	sessionsync_host_requests_total{operation,result}  result is "ok" or an error code
	sessionsync_host_request_duration_seconds{operation}

Provisioning, API and webhooks:

	sessionsync_instances_created_total{outcome}       dual_success | db_only_degraded
	sessionsync_api_requests_total{method,status}
	sessionsync_api_request_duration_seconds{method}
	sessionsync_webhook_deliveries_total{result}       delivered | failed

Labels never carry session or record IDs.

# Timer

	timer := metrics.NewTimer()
	resp, err := doRequest()
	timer.ObserveDurationVec(metrics.HostRequestDuration, "list_sessions")

# Health

HealthChecker aggregates component health for /health and /ready. A
component registered as critical makes readiness fail while it is
unhealthy; the session host is deliberately not critical since the
reconciler keeps running in degraded mode without it.
*/
package metrics
