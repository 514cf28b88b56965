// Package events announces row mutations made through the gateway.
//
// A table handle publishes one Event per successful insert, update or delete
// that touched at least one row. Events fan out to sinks: a zap logger
// (connector "log") and the message systems registered by the subpackages
// nats, kafka, mqtt, clickhouse and webhook. Sinks register themselves in
// init, so a binary enables a connector with a blank import:
//
//	import _ "github.com/edgeflare/pgtable/pkg/events/nats"
//
// Delivery is best effort. A failed publish is counted and logged by Multi
// and never fails the database operation that produced the event.
package events
