package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quill/internal/pipeline"
)

const runColumns = "id, workflow_id, stage_id, status, started_at, completed_at, error_message, output_json"

// SaveRun upserts a stage run. The run's output payload is stored as JSON.
func (s *Store) SaveRun(ctx context.Context, run *pipeline.StageRun) error {
	if run == nil {
		return errors.New("run is nil")
	}
	var outputJSON any
	if run.Output != nil {
		data, err := json.Marshal(run.Output)
		if err != nil {
			return fmt.Errorf("marshal run output: %w", err)
		}
		outputJSON = string(data)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stage_runs (`+runColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (id)
         DO UPDATE SET status = excluded.status,
                       completed_at = excluded.completed_at,
                       error_message = excluded.error_message,
                       output_json = excluded.output_json`,
		run.ID,
		run.WorkflowID,
		run.StageID,
		run.Status,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(run.CompletedAt),
		nullableString(run.ErrorMessage),
		outputJSON,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun fetches a run by identifier, returning nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*pipeline.StageRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM stage_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRuns returns the most recent run per stage for a workflow.
func (s *Store) LatestRuns(ctx context.Context, workflowID string) (map[int]*pipeline.StageRun, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM stage_runs
         WHERE workflow_id = ?
         ORDER BY stage_id, started_at`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest runs: %w", err)
	}
	defer rows.Close()

	latest := make(map[int]*pipeline.StageRun)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		latest[run.StageID] = run
	}
	return latest, rows.Err()
}

// RunsForStage returns the full run history for one stage, oldest first.
func (s *Store) RunsForStage(ctx context.Context, workflowID string, stageID int) ([]*pipeline.StageRun, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM stage_runs
         WHERE workflow_id = ? AND stage_id = ?
         ORDER BY started_at`,
		workflowID,
		stageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()

	var runs []*pipeline.StageRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AbandonStuckRuns marks non-terminal runs as failed. Called at startup so
// runs orphaned by a crash do not hold the single in-flight slot forever.
func (s *Store) AbandonStuckRuns(ctx context.Context, workflowID string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE stage_runs
         SET status = ?, completed_at = ?, error_message = 'abandoned: process restarted'
         WHERE workflow_id = ? AND status IN (?, ?)`,
		pipeline.StatusFailed,
		now,
		workflowID,
		pipeline.StatusPending,
		pipeline.StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon stuck runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*pipeline.StageRun, error) {
	var (
		id           string
		workflowID   string
		stageID      int
		statusStr    string
		startedRaw   string
		completedRaw sql.NullString
		errorMessage sql.NullString
		outputRaw    sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&workflowID,
		&stageID,
		&statusStr,
		&startedRaw,
		&completedRaw,
		&errorMessage,
		&outputRaw,
	); err != nil {
		return nil, err
	}

	run := &pipeline.StageRun{
		ID:           id,
		WorkflowID:   workflowID,
		StageID:      stageID,
		Status:       pipeline.Status(statusStr),
		ErrorMessage: errorMessage.String,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			run.CompletedAt = &completed
		}
	}
	if outputRaw.Valid && outputRaw.String != "" {
		var output pipeline.Output
		if err := json.Unmarshal([]byte(outputRaw.String), &output); err != nil {
			return nil, fmt.Errorf("unmarshal run output: %w", err)
		}
		run.Output = &output
	}
	return run, nil
}
