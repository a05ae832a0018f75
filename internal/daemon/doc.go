// Package daemon coordinates the long-running tsmill process.
//
// It wires configuration, the staging store, the watcher, the ffmpeg encoder,
// and the attempt journal into a pipeline driver and runs it under a
// flock-based lock so only one instance converts files from a given log
// directory. Stop asks the driver to finish the in-flight file; Abort kills the
// encoder as well.
//
// Keep orchestration here: conversion behaviour belongs to the pipeline and
// its collaborators.
package daemon
