// Package internal documents the SafetyNow server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, problem responses, and routing
// - domain: users, catalog, history, tickets, leads, and devices
// - storage: Postgres repositories and migrations
// - email, objectstore, push, crm: outbound integrations
// - auth, audit, config, metrics, telemetry: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
