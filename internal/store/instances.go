package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quill/internal/pipeline"
)

const instanceColumns = "id, title, pipeline_key, last_modified_stage, config_changed_at, regeneration_count, created_at, updated_at"

// CreateInstance inserts a new workflow instance. A missing ID is assigned.
func (s *Store) CreateInstance(ctx context.Context, instance *pipeline.Instance) error {
	if instance == nil {
		return errors.New("instance is nil")
	}
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}
	instance.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO workflow_instances (`+instanceColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.ID,
		instance.Title,
		instance.PipelineKey,
		instance.LastModifiedStage,
		nullableTime(instance.ConfigChangedAt),
		instance.RegenerationCount,
		instance.CreatedAt.Format(time.RFC3339Nano),
		instance.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance fetches an instance by identifier, returning nil when absent.
func (s *Store) GetInstance(ctx context.Context, id string) (*pipeline.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)
	instance, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return instance, nil
}

// UpdateInstance persists changes to an existing instance.
func (s *Store) UpdateInstance(ctx context.Context, instance *pipeline.Instance) error {
	if instance == nil {
		return errors.New("instance is nil")
	}
	instance.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE workflow_instances
         SET title = ?, pipeline_key = ?, last_modified_stage = ?,
             config_changed_at = ?, regeneration_count = ?, updated_at = ?
         WHERE id = ?`,
		instance.Title,
		instance.PipelineKey,
		instance.LastModifiedStage,
		nullableTime(instance.ConfigChangedAt),
		instance.RegenerationCount,
		instance.UpdatedAt.Format(time.RFC3339Nano),
		instance.ID,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("instance %s not found", instance.ID)
	}
	return nil
}

// ListInstances returns all instances ordered by creation time.
func (s *Store) ListInstances(ctx context.Context) ([]*pipeline.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []*pipeline.Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// RemoveInstance deletes an instance and, via cascade, its runs and edits.
func (s *Store) RemoveInstance(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_instances WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SaveStageConfig upserts the configuration snapshot for one stage.
func (s *Store) SaveStageConfig(ctx context.Context, workflowID string, stageID int, configJSON, configHash string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stage_configs (workflow_id, stage_id, config_json, config_hash, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (workflow_id, stage_id)
         DO UPDATE SET config_json = excluded.config_json,
                       config_hash = excluded.config_hash,
                       updated_at = excluded.updated_at`,
		workflowID,
		stageID,
		configJSON,
		configHash,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save stage config: %w", err)
	}
	return nil
}

// StageConfig returns the stored configuration snapshot for a stage. Both
// return values are empty when no snapshot exists.
func (s *Store) StageConfig(ctx context.Context, workflowID string, stageID int) (configJSON, configHash string, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT config_json, config_hash FROM stage_configs WHERE workflow_id = ? AND stage_id = ?`,
		workflowID, stageID)
	if err := row.Scan(&configJSON, &configHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("get stage config: %w", err)
	}
	return configJSON, configHash, nil
}

func scanInstance(scanner interface{ Scan(dest ...any) error }) (*pipeline.Instance, error) {
	var (
		id             string
		title          string
		pipelineKey    string
		lastModified   int
		changedAtRaw   sql.NullString
		regenerations  int
		createdRaw     string
		updatedRaw     string
	)
	if err := scanner.Scan(
		&id,
		&title,
		&pipelineKey,
		&lastModified,
		&changedAtRaw,
		&regenerations,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	instance := &pipeline.Instance{
		ID:                id,
		Title:             title,
		PipelineKey:       pipelineKey,
		LastModifiedStage: lastModified,
		RegenerationCount: regenerations,
	}
	if changedAtRaw.Valid {
		if changedAt, err := parseTimeString(changedAtRaw.String); err == nil {
			instance.ConfigChangedAt = &changedAt
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		instance.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		instance.UpdatedAt = updated
	}
	return instance, nil
}
