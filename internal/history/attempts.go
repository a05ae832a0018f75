package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tsmill/internal/services"
)

// Outcome is the recorded result of one conversion attempt.
type Outcome string

const (
	OutcomeRunning      Outcome = "running"
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeRetryPending Outcome = "retry_pending"
	OutcomeAbandoned    Outcome = "abandoned"
)

// Attempt is one journal row.
type Attempt struct {
	ID            int64
	CorrelationID string
	SourcePath    string
	Attempt       int
	StagedPath    string
	OutputPath    string
	Outcome       Outcome
	ErrorKind     string
	ErrorMessage  string
	ExitCode      *int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the attempt ran, or zero while it is still running.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() || a.StartedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// Summary counts journal rows by outcome.
type Summary struct {
	Running      int
	Succeeded    int
	RetryPending int
	Abandoned    int
}

// Total returns the number of attempts in the journal.
func (s Summary) Total() int {
	return s.Running + s.Succeeded + s.RetryPending + s.Abandoned
}

// Begin records the start of an attempt and returns its row ID.
func (s *Store) Begin(ctx context.Context, a Attempt) (int64, error) {
	if strings.TrimSpace(a.SourcePath) == "" {
		return 0, errors.New("history: source path is required")
	}
	started := a.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO attempts (
            correlation_id, source_path, attempt, staged_path, output_path, outcome, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.CorrelationID,
		a.SourcePath,
		a.Attempt,
		nullableString(a.StagedPath),
		nullableString(a.OutputPath),
		OutcomeRunning,
		started.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Finish stamps the outcome of an attempt. A nil cause clears the error columns.
func (s *Store) Finish(ctx context.Context, id int64, outcome Outcome, cause error, stagedPath, outputPath string) error {
	var (
		kind     any
		message  any
		exitCode any
	)
	if cause != nil {
		details := services.Details(cause)
		kind = string(details.Kind)
		message = cause.Error()
		if details.ExitCode >= 0 {
			exitCode = details.ExitCode
		}
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE attempts SET
            outcome = ?, error_kind = ?, error_message = ?, exit_code = ?,
            staged_path = COALESCE(?, staged_path), output_path = COALESCE(?, output_path),
            finished_at = ?
        WHERE id = ?`,
		outcome,
		kind,
		message,
		exitCode,
		nullableString(stagedPath),
		nullableString(outputPath),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update attempt %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update attempt %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Recent returns up to limit attempts, newest first. A limit <= 0 returns all rows.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	ctx = ensureContext(ctx)
	query := `SELECT id, correlation_id, source_path, attempt, staged_path, output_path,
            outcome, error_kind, error_message, exit_code, started_at, finished_at
        FROM attempts ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// ForSource returns every attempt recorded for a source path, oldest first.
func (s *Store) ForSource(ctx context.Context, sourcePath string) ([]Attempt, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correlation_id, source_path, attempt, staged_path, output_path,
            outcome, error_kind, error_message, exit_code, started_at, finished_at
        FROM attempts WHERE source_path = ? ORDER BY id ASC`, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("query attempts for %s: %w", sourcePath, err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// Summary counts attempts per outcome.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(1) FROM attempts GROUP BY outcome")
	if err != nil {
		return Summary{}, fmt.Errorf("summarize attempts: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return Summary{}, fmt.Errorf("scan summary: %w", err)
		}
		switch Outcome(outcome) {
		case OutcomeRunning:
			summary.Running = count
		case OutcomeSucceeded:
			summary.Succeeded = count
		case OutcomeRetryPending:
			summary.RetryPending = count
		case OutcomeAbandoned:
			summary.Abandoned = count
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate summary: %w", err)
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a          Attempt
		staged     sql.NullString
		output     sql.NullString
		outcome    string
		kind       sql.NullString
		message    sql.NullString
		exitCode   sql.NullInt64
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&a.ID, &a.CorrelationID, &a.SourcePath, &a.Attempt, &staged, &output,
		&outcome, &kind, &message, &exitCode, &startedAt, &finishedAt); err != nil {
		return Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.StagedPath = staged.String
	a.OutputPath = output.String
	a.Outcome = Outcome(outcome)
	a.ErrorKind = kind.String
	a.ErrorMessage = message.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		a.ExitCode = &code
	}
	a.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		a.FinishedAt = parseTime(finishedAt.String)
	}
	return a, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
