// Package watch discovers new source files in the input directory.
//
// Poller diffs directory snapshots against a seen-set that only grows: files
// present at startup are captured once as the baseline and never reported,
// and a file that disappears is not forgotten, so an abandoned file that is
// still on disk is never reported again. Notifier optionally wraps fsnotify
// to wake the pipeline early; the snapshot diff stays authoritative.
package watch
