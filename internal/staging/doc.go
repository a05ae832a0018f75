// Package staging copies source files into the local working area before
// encoding and removes them once the output is published.
//
// A staged copy belongs to exactly one attempt. It is deleted after a
// successful encode and deliberately left in place after a failure so an
// operator can inspect it; the next attempt copies from the source again.
// CleanStale and List give the CLI a way to review and reclaim leftovers.
package staging
