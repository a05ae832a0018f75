// Package pipeline moves discovered source files through staging and
// encoding, one file at a time, under a bounded retry budget.
//
// A file travels Discovered → Queued → Staging → Encoding and ends as
// Succeeded, RetryPending (requeued at the front), or Abandoned once the
// retry ledger reaches its maximum. Driver.RunCycle performs one poll and
// drains the queue to empty; Driver.Run repeats cycles separated by the idle
// poll interval.
//
// Queue and ledger are touched only by the goroutine running the driver.
// Other goroutines read a mutex-guarded snapshot through Status.
//
// Shutdown is two-stage. Cancelling the context passed to Run stops the loop
// after the in-flight file finishes; Abort additionally kills the encoder,
// leaving the staged copy and any partial output behind.
package pipeline
