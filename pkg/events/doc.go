/*
Package events provides in-process publish/subscribe for session lifecycle
events and delivers them to external webhooks.

# Event Types

	instance.created            dual creation succeeded
	instance.degraded           row written, remote creation failed
	instance.retried            degraded record re-attempted
	instance.deleted            tenant deleted the session
	session.adopted             orphan session attached to a tenant
	session.deleted             orphan session removed from the host
	session.status_changed      status written by the synchronizer
	reconciliation.completed    one cycle finished; Data holds the summary

# Broker

The Broker fans events out to subscriber channels from a single goroutine.
The queue holds 100 events and each subscriber buffers 50; when either is
full the event is dropped for that consumer. Publish never blocks, and a nil
*Broker discards everything, so components can be built without one.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
		fmt.Println(event.Type, event.Metadata["record_id"])
	}

# Webhooks

Dispatcher subscribes to a broker and POSTs every event as JSON to each
configured URL. Deliveries are retried through pkg/retry on transport
failures, 429 and 5xx; other 4xx responses are final. When a secret is
configured each request carries

	X-Sessionsync-Event:      event type
	X-Sessionsync-Timestamp:  RFC 3339 send time
	X-Sessionsync-Signature:  hex HMAC-SHA256 of timestamp + "\n" + body

Receivers validate with Verify. The API server uses the same scheme for the
session host's inbound status webhooks.
*/
package events
