package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tsmill/internal/daemon"
	"tsmill/internal/history"
	"tsmill/internal/logging"
	"tsmill/internal/services"
	"tsmill/internal/testsupport"
)

type noopEncoder struct{}

func (noopEncoder) Encode(context.Context, string, string) error { return nil }

func TestStatusReportsStoppedAndJournalTotals(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenHistory(t, env.cfg)
	ctx := context.Background()
	id, err := store.Begin(ctx, history.Attempt{SourcePath: filepath.Join(env.cfg.Paths.InputDir, "a.ts"), Attempt: 1})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(ctx, id, history.OutcomeSucceeded, nil, "", ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running:      no")
	requireContains(t, out, "succeeded")
	requireContains(t, out, env.cfg.Paths.InputDir)

	column := -1
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			break
		}
		label, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value := len(line) - len(strings.TrimLeft(line[len(label)+1:], " "))
		if column < 0 {
			column = value
		}
		if value != column {
			t.Fatalf("status value for %q starts at column %d, want %d:\n%s", label, value, column, out)
		}
	}
	if column < 0 {
		t.Fatalf("no labelled lines in status output:\n%s", out)
	}
}

func TestStatusReportsRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	d, err := daemon.New(env.cfg, logging.NewNop(), daemon.WithEncoder(noopEncoder{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running:      yes")

	if _, _, err := runCLI(t, []string{"staging", "clean"}, env.configPath); err == nil {
		t.Fatal("expected staging clean to refuse while running")
	}
}

func TestHistoryListsAttempts(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenHistory(t, env.cfg)
	ctx := context.Background()
	source := filepath.Join(env.cfg.Paths.InputDir, "news.ts")
	for attempt := 1; attempt <= 2; attempt++ {
		id, err := store.Begin(ctx, history.Attempt{SourcePath: source, Attempt: attempt})
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		cause := services.Wrap(services.ErrEncode, "encode", "ffmpeg exited with status 1", errors.New("exit status 1"))
		if err := store.Finish(ctx, id, history.OutcomeRetryPending, cause, "", ""); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}

	out, _, err := runCLI(t, []string{"history", "--limit", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "news.ts")
	requireContains(t, out, "retry_pending")

	out, _, err = runCLI(t, []string{"history", "--source", source}, env.configPath)
	if err != nil {
		t.Fatalf("history --source: %v", err)
	}
	requireContains(t, out, "news.ts")

	out, _, err = runCLI(t, []string{"history", "--source", filepath.Join(env.cfg.Paths.InputDir, "other.ts")}, env.configPath)
	if err != nil {
		t.Fatalf("history --source other: %v", err)
	}
	requireContains(t, out, "No attempts recorded")
}

func TestHistoryDisabled(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithHistoryDisabled())
	if _, _, err := runCLI(t, []string{"history"}, env.configPath); err == nil {
		t.Fatal("expected error when history is disabled")
	}
}

func TestStagingListAndClean(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"staging", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("staging list: %v", err)
	}
	requireContains(t, out, "No staged copies found")

	old := filepath.Join(env.cfg.Paths.StagingDir, "old.ts")
	fresh := filepath.Join(env.cfg.Paths.StagingDir, "fresh.ts.partial")
	testsupport.WriteFile(t, old, 2048)
	testsupport.WriteFile(t, fresh, 16)
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	out, _, err = runCLI(t, []string{"staging", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("staging list: %v", err)
	}
	requireContains(t, out, "old.ts")
	requireContains(t, out, "fresh.ts.partial")
	requireContains(t, out, "Total: 2 files")

	out, _, err = runCLI(t, []string{"staging", "clean", "--older-than", "24h"}, env.configPath)
	if err != nil {
		t.Fatalf("staging clean: %v", err)
	}
	requireContains(t, out, "Removed 1 staged copies")
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected old copy removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh copy kept: %v", err)
	}

	if _, _, err := runCLI(t, []string{"staging", "clean"}, env.configPath); err != nil {
		t.Fatalf("staging clean all: %v", err)
	}
	if _, err := os.Stat(fresh); !os.IsNotExist(err) {
		t.Fatal("expected every copy removed without --older-than")
	}
}

func TestCheckReportsEncoder(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithEncoderScript("#!/bin/sh\necho ' V....D h264_nvenc           NVIDIA NVENC H.264 encoder'\n"))

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "All dependencies available")
	requireContains(t, out, "h264_nvenc")
}

func TestCheckFailsForMissingCodec(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithEncoderScript("#!/bin/sh\necho ' V....D libx264 H.264'\n"))

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err == nil {
		t.Fatal("expected check to fail when the codec is missing")
	}
	requireContains(t, out, "missing")
}
