// Package history journals conversion attempts in SQLite.
//
// Every attempt the pipeline makes is recorded with its correlation ID, source
// path, attempt number, and final outcome so operators can review what
// happened after the fact. The journal is write-mostly: the pipeline never
// reads it back to rebuild queue or retry state, so a restart still starts
// from an empty queue and ledger.
//
// Schema changes bump schemaVersion in schema.go; operators delete the
// database to adopt the new schema.
package history
