package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/fdl/internal/domain"
)

// FlowStore — хранилище flows и flow_versions.
type FlowStore struct {
	pool *pgxpool.Pool
}

// NewFlowStore создаёт новый FlowStore.
func NewFlowStore(pool *pgxpool.Pool) *FlowStore {
	return &FlowStore{pool: pool}
}

// --- Flow CRUD ---

// Create создаёт новый flow.
func (s *FlowStore) Create(ctx context.Context, flow *domain.Flow) error {
	query := `
		INSERT INTO flows (id, name, description, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query,
		flow.ID,
		flow.Name,
		flow.Description,
		flow.IsActive,
		flow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// GetByID возвращает flow по ID.
func (s *FlowStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `
		SELECT id, name, description, is_active, created_at
		FROM flows
		WHERE id = $1
	`
	var flow domain.Flow
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&flow.ID,
		&flow.Name,
		&flow.Description,
		&flow.IsActive,
		&flow.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow by id: %w", err)
	}
	return &flow, nil
}

// GetByName возвращает flow по имени.
func (s *FlowStore) GetByName(ctx context.Context, name string) (*domain.Flow, error) {
	query := `
		SELECT id, name, description, is_active, created_at
		FROM flows
		WHERE name = $1
	`
	var flow domain.Flow
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&flow.ID,
		&flow.Name,
		&flow.Description,
		&flow.IsActive,
		&flow.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow by name: %w", err)
	}
	return &flow, nil
}

// List возвращает список всех flows.
func (s *FlowStore) List(ctx context.Context) ([]domain.Flow, error) {
	query := `
		SELECT id, name, description, is_active, created_at
		FROM flows
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		var flow domain.Flow
		if err := rows.Scan(
			&flow.ID,
			&flow.Name,
			&flow.Description,
			&flow.IsActive,
			&flow.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// Update обновляет flow.
func (s *FlowStore) Update(ctx context.Context, flow *domain.Flow) error {
	query := `
		UPDATE flows
		SET name = $2, description = $3, is_active = $4
		WHERE id = $1
	`
	result, err := s.pool.Exec(ctx, query, flow.ID, flow.Name, flow.Description, flow.IsActive)
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет flow (каскадно удалит versions, runs, schedules).
func (s *FlowStore) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM flows WHERE id = $1`
	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- FlowVersion CRUD ---

// CreateVersion создаёт новую версию flow с YAML-определением.
// Номер версии автоматически инкрементируется.
func (s *FlowStore) CreateVersion(ctx context.Context, flowID uuid.UUID, source string) (*domain.FlowVersion, error) {
	var nextVersion int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM flow_versions
		WHERE flow_id = $1
	`, flowID).Scan(&nextVersion)
	if err != nil {
		return nil, fmt.Errorf("get next version: %w", err)
	}

	var version domain.FlowVersion
	err = s.pool.QueryRow(ctx, `
		INSERT INTO flow_versions (flow_id, version, source, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING flow_id, version, source, created_at
	`, flowID, nextVersion, source).Scan(
		&version.FlowID,
		&version.Version,
		&version.Source,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert flow version: %w", err)
	}
	return &version, nil
}

// GetVersion возвращает конкретную версию flow.
func (s *FlowStore) GetVersion(ctx context.Context, flowID uuid.UUID, version int) (*domain.FlowVersion, error) {
	query := `
		SELECT flow_id, version, source, created_at
		FROM flow_versions
		WHERE flow_id = $1 AND version = $2
	`
	var fv domain.FlowVersion
	err := s.pool.QueryRow(ctx, query, flowID, version).Scan(
		&fv.FlowID,
		&fv.Version,
		&fv.Source,
		&fv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow version: %w", err)
	}
	return &fv, nil
}

// GetLatestVersion возвращает последнюю версию flow.
func (s *FlowStore) GetLatestVersion(ctx context.Context, flowID uuid.UUID) (*domain.FlowVersion, error) {
	query := `
		SELECT flow_id, version, source, created_at
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	var fv domain.FlowVersion
	err := s.pool.QueryRow(ctx, query, flowID).Scan(
		&fv.FlowID,
		&fv.Version,
		&fv.Source,
		&fv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest flow version: %w", err)
	}
	return &fv, nil
}

// ListVersions возвращает все версии flow.
func (s *FlowStore) ListVersions(ctx context.Context, flowID uuid.UUID) ([]domain.FlowVersion, error) {
	query := `
		SELECT flow_id, version, source, created_at
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY version DESC
	`
	rows, err := s.pool.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("list flow versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.FlowVersion
	for rows.Next() {
		var fv domain.FlowVersion
		if err := rows.Scan(
			&fv.FlowID,
			&fv.Version,
			&fv.Source,
			&fv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flow version: %w", err)
		}
		versions = append(versions, fv)
	}
	return versions, rows.Err()
}
