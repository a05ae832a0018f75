// Package queue holds the ordered list of source files waiting for conversion.
//
// New discoveries join the back; a file that failed below its retry budget
// goes to the front so it is retried before anything else. A file appears at
// most once and is never queued once the retry ledger has abandoned it. The
// queue is owned by a single goroutine and does no locking or I/O.
package queue
