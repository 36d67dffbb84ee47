package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quill/internal/outline"
)

// AppendEdit records one user edit in the append-only log.
func (s *Store) AppendEdit(ctx context.Context, workflowID string, edit outline.Edit) error {
	if workflowID == "" {
		return errors.New("workflow id required")
	}
	if edit.ID == "" {
		edit.ID = uuid.NewString()
	}
	if edit.CreatedAt.IsZero() {
		edit.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(edit)
	if err != nil {
		return fmt.Errorf("marshal edit: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO user_edits (id, workflow_id, stage_id, kind, payload_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		edit.ID,
		workflowID,
		edit.StageID,
		string(edit.Kind),
		string(payload),
		edit.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert edit: %w", err)
	}
	return nil
}

// EditsForStage returns a stage's edit log in recorded order.
func (s *Store) EditsForStage(ctx context.Context, workflowID string, stageID int) ([]outline.Edit, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT payload_json FROM user_edits
         WHERE workflow_id = ? AND stage_id = ?
         ORDER BY created_at, id`,
		workflowID,
		stageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query edits: %w", err)
	}
	defer rows.Close()

	var edits []outline.Edit
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var edit outline.Edit
		if err := json.Unmarshal([]byte(payload), &edit); err != nil {
			return nil, fmt.Errorf("unmarshal edit: %w", err)
		}
		edits = append(edits, edit)
	}
	return edits, rows.Err()
}

// EditCount returns how many edits are recorded for a stage.
func (s *Store) EditCount(ctx context.Context, workflowID string, stageID int) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM user_edits WHERE workflow_id = ? AND stage_id = ?`,
		workflowID,
		stageID,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count edits: %w", err)
	}
	return count, nil
}

// ClearEdits removes all edits recorded against a stage.
func (s *Store) ClearEdits(ctx context.Context, workflowID string, stageID int) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM user_edits WHERE workflow_id = ? AND stage_id = ?`,
		workflowID,
		stageID,
	)
	if err != nil {
		return 0, fmt.Errorf("clear edits: %w", err)
	}
	return res.RowsAffected()
}
