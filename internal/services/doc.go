// Package services defines shared utilities consumed by the pipeline and its
// collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp the source file, attempt number, and
//     correlation identifier for logging.
//   - The failure taxonomy (discovery, staging, encode, cleanup) as error
//     markers plus the Wrap and Details helpers that keep classification and
//     structured log fields consistent.
//
// Use these helpers when wiring new collaborators so failure accounting and
// observability stay uniform across the pipeline.
package services
