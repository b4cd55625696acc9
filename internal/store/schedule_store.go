package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/fdl/internal/domain"
)

// ScheduleStore — хранилище расписаний запуска flows.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

// NewScheduleStore создаёт новый ScheduleStore.
func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

// Create создаёт новый schedule.
func (s *ScheduleStore) Create(ctx context.Context, schedule *domain.Schedule) error {
	argsJSON, err := json.Marshal(schedule.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	query := `
		INSERT INTO schedules (id, flow_id, name, cron_expr, interval_sec, timezone,
		                       enabled, next_due_at, args, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.pool.Exec(ctx, query,
		schedule.ID,
		schedule.FlowID,
		nullString(schedule.Name),
		nullString(schedule.CronExpr),
		nullInt(schedule.IntervalSec),
		schedule.Timezone,
		schedule.Enabled,
		schedule.NextDueAt,
		argsJSON,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (s *ScheduleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	query := `
		SELECT id, flow_id, name, cron_expr, interval_sec, timezone, enabled,
		       next_due_at, last_run_at, last_run_id, args, created_at, updated_at
		FROM schedules
		WHERE id = $1
	`
	return s.scanSchedule(s.pool.QueryRow(ctx, query, id))
}

// ScheduleFilter — параметры фильтрации schedules.
type ScheduleFilter struct {
	FlowID  *uuid.UUID
	Enabled *bool
	Limit   int
	Offset  int
}

// List возвращает список schedules с фильтрацией.
func (s *ScheduleStore) List(ctx context.Context, filter ScheduleFilter) ([]domain.Schedule, error) {
	query := `
		SELECT id, flow_id, name, cron_expr, interval_sec, timezone, enabled,
		       next_due_at, last_run_at, last_run_id, args, created_at, updated_at
		FROM schedules
		WHERE ($1::uuid IS NULL OR flow_id = $1)
		  AND ($2::boolean IS NULL OR enabled = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query,
		nullUUID(filter.FlowID),
		filter.Enabled,
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		schedule, err := s.scanScheduleFromRows(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

// ListDue возвращает schedules, готовые к выполнению.
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	query := `
		SELECT id, flow_id, name, cron_expr, interval_sec, timezone, enabled,
		       next_due_at, last_run_at, last_run_id, args, created_at, updated_at
		FROM schedules
		WHERE enabled = true
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		schedule, err := s.scanScheduleFromRows(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

// Update обновляет schedule.
func (s *ScheduleStore) Update(ctx context.Context, schedule *domain.Schedule) error {
	argsJSON, err := json.Marshal(schedule.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	query := `
		UPDATE schedules
		SET name = $2, cron_expr = $3, interval_sec = $4, timezone = $5,
		    enabled = $6, next_due_at = $7, last_run_at = $8, last_run_id = $9,
		    args = $10, updated_at = $11
		WHERE id = $1
	`
	result, err := s.pool.Exec(ctx, query,
		schedule.ID,
		nullString(schedule.Name),
		nullString(schedule.CronExpr),
		nullInt(schedule.IntervalSec),
		schedule.Timezone,
		schedule.Enabled,
		schedule.NextDueAt,
		schedule.LastRunAt,
		schedule.LastRunID,
		argsJSON,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет schedule.
func (s *ScheduleStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled включает/выключает schedule.
func (s *ScheduleStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE schedules SET enabled = $2, updated_at = NOW() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (s *ScheduleStore) scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var sc domain.Schedule
	var name, cronExpr *string
	var intervalSec *int
	var argsJSON []byte

	err := row.Scan(
		&sc.ID,
		&sc.FlowID,
		&name,
		&cronExpr,
		&intervalSec,
		&sc.Timezone,
		&sc.Enabled,
		&sc.NextDueAt,
		&sc.LastRunAt,
		&sc.LastRunID,
		&argsJSON,
		&sc.CreatedAt,
		&sc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if name != nil {
		sc.Name = *name
	}
	if cronExpr != nil {
		sc.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		sc.IntervalSec = *intervalSec
	}
	if argsJSON != nil {
		if err := json.Unmarshal(argsJSON, &sc.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args: %w", err)
		}
	}

	return &sc, nil
}

func (s *ScheduleStore) scanScheduleFromRows(rows pgx.Rows) (*domain.Schedule, error) {
	var sc domain.Schedule
	var name, cronExpr *string
	var intervalSec *int
	var argsJSON []byte

	err := rows.Scan(
		&sc.ID,
		&sc.FlowID,
		&name,
		&cronExpr,
		&intervalSec,
		&sc.Timezone,
		&sc.Enabled,
		&sc.NextDueAt,
		&sc.LastRunAt,
		&sc.LastRunID,
		&argsJSON,
		&sc.CreatedAt,
		&sc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if name != nil {
		sc.Name = *name
	}
	if cronExpr != nil {
		sc.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		sc.IntervalSec = *intervalSec
	}
	if argsJSON != nil {
		if err := json.Unmarshal(argsJSON, &sc.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args: %w", err)
		}
	}

	return &sc, nil
}
