// Package config loads, normalizes, and validates tsmill configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours TSMILL_* environment overrides for
// the directories and log level. The Config type centralizes every knob the
// daemon and CLI need: where transport streams arrive, where staged copies and
// published outputs live, the ffmpeg parameter set, and the retry budget.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
