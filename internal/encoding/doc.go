// Package encoding drives the external ffmpeg process that transcodes a
// staged copy into the output directory.
//
// Success is decided by the process exit status alone. Stderr is read on a
// helper goroutine as a lazy line sequence: progress lines are parsed and
// logged through a time-based sampler for liveness, other lines are kept as a
// short tail that is attached to the error when ffmpeg fails. A failed run
// removes its partial output so the next attempt starts clean.
package encoding
