// Package store executes compiled queries and mutations against SQLite.
//
// It owns the physical layout: one table per resource holding JSON payloads,
// plus a single append-only audit log shared by all resources. Reads go
// through the Executor, which shapes rows back into JSON and maintains
// pagination cursors. Writes go through the mutation methods, each of which
// commits the record change and its audit event in one transaction - a
// mutation is never visible without its audit trail, and vice versa.
//
// The connection pool is the only shared mutable state; all cross-request
// consistency is delegated to SQLite's transaction machinery.
package store
