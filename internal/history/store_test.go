package history_test

import (
	"context"
	"errors"
	"testing"

	"tsmill/internal/history"
	"tsmill/internal/services"
	"tsmill/internal/testsupport"
)

func TestBeginFinishRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	id, err := store.Begin(ctx, history.Attempt{
		CorrelationID: "corr-1",
		SourcePath:    "/feed/clip1.ts",
		Attempt:       1,
	})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected row id")
	}

	if err := store.Finish(ctx, id, history.OutcomeSucceeded, nil, "/stage/clip1.ts", "/out/clip1.mp4"); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	attempts, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	got := attempts[0]
	if got.Outcome != history.OutcomeSucceeded || got.OutputPath != "/out/clip1.mp4" || got.StagedPath != "/stage/clip1.ts" {
		t.Fatalf("unexpected attempt %#v", got)
	}
	if got.ExitCode != nil || got.ErrorKind != "" {
		t.Fatalf("expected no error columns, got %#v", got)
	}
	if got.FinishedAt.IsZero() || got.Duration() < 0 {
		t.Fatalf("expected finish timestamp, got %#v", got)
	}
}

func TestFinishRecordsEncodeFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	id, err := store.Begin(ctx, history.Attempt{CorrelationID: "corr-2", SourcePath: "/feed/bad.ts", Attempt: 2})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	failure := services.Wrap(services.ErrEncode, "encode", "ffmpeg exited with status 1", nil)
	var svcErr *services.ServiceError
	if errors.As(failure, &svcErr) {
		svcErr.ExitCode = 1
	}
	if err := store.Finish(ctx, id, history.OutcomeRetryPending, failure, "", ""); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	attempts, err := store.ForSource(ctx, "/feed/bad.ts")
	if err != nil {
		t.Fatalf("ForSource failed: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	got := attempts[0]
	if got.ErrorKind != string(services.ErrorKindEncode) {
		t.Fatalf("error kind = %q", got.ErrorKind)
	}
	if got.ExitCode == nil || *got.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", got.ExitCode)
	}
	if got.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", got.Attempt)
	}
}

func TestSummaryCountsOutcomes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	outcomes := []history.Outcome{
		history.OutcomeSucceeded,
		history.OutcomeRetryPending,
		history.OutcomeRetryPending,
		history.OutcomeAbandoned,
	}
	for i, outcome := range outcomes {
		id, err := store.Begin(ctx, history.Attempt{CorrelationID: "c", SourcePath: "/feed/x.ts", Attempt: i + 1})
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if err := store.Finish(ctx, id, outcome, nil, "", ""); err != nil {
			t.Fatalf("Finish failed: %v", err)
		}
	}
	if _, err := store.Begin(ctx, history.Attempt{CorrelationID: "c", SourcePath: "/feed/y.ts", Attempt: 1}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	want := history.Summary{Running: 1, Succeeded: 1, RetryPending: 2, Abandoned: 1}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}
	if summary.Total() != 5 {
		t.Fatalf("total = %d, want 5", summary.Total())
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].SourcePath != "/feed/y.ts" {
		t.Fatalf("expected newest first, got %#v", recent)
	}
}

func TestBeginRequiresSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	if _, err := store.Begin(context.Background(), history.Attempt{}); err == nil {
		t.Fatal("expected error for missing source path")
	}
}

func TestFinishUnknownID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	if err := store.Finish(context.Background(), 999, history.OutcomeSucceeded, nil, "", ""); err == nil {
		t.Fatal("expected error for unknown attempt id")
	}
}

func TestReopenKeepsJournal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.Begin(context.Background(), history.Attempt{CorrelationID: "c", SourcePath: "/feed/a.ts", Attempt: 1}); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenHistory(t, cfg)
	summary, err := reopened.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Running != 1 {
		t.Fatalf("expected journal to survive reopen, got %+v", summary)
	}
}
