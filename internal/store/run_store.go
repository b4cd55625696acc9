package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/fdl/internal/domain"
)

// RunStore — хранилище runs и журнала исполнения узлов.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore создаёт новый RunStore.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Create создаёт новый run.
func (s *RunStore) Create(ctx context.Context, run *domain.Run) error {
	argsJSON, err := json.Marshal(run.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	query := `
		INSERT INTO runs (id, flow_id, version, status, args, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		run.FlowID,
		run.Version,
		run.Status,
		argsJSON,
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (s *RunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, flow_id, version, status, args, vars, started_at, finished_at,
		       error, idempotency_key, created_at
		FROM runs
		WHERE id = $1
	`
	return scanRun(s.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (s *RunStore) GetByIdempotencyKey(ctx context.Context, flowID uuid.UUID, key string) (*domain.Run, error) {
	query := `
		SELECT id, flow_id, version, status, args, vars, started_at, finished_at,
		       error, idempotency_key, created_at
		FROM runs
		WHERE flow_id = $1 AND idempotency_key = $2
	`
	return scanRun(s.pool.QueryRow(ctx, query, flowID, key))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	FlowID *uuid.UUID
	Status domain.RunStatus
	Limit  int
	Offset int
}

// List возвращает список runs с фильтрацией.
func (s *RunStore) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT id, flow_id, version, status, args, vars, started_at, finished_at,
		       error, idempotency_key, created_at
		FROM runs
		WHERE ($1::uuid IS NULL OR flow_id = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.pool.Query(ctx, query,
		nullUUID(filter.FlowID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update обновляет статус, времена и снимок переменных run.
func (s *RunStore) Update(ctx context.Context, run *domain.Run) error {
	varsJSON, err := json.Marshal(run.Vars)
	if err != nil {
		return fmt.Errorf("marshal vars: %w", err)
	}

	query := `
		UPDATE runs
		SET status = $2, vars = $3, started_at = $4, finished_at = $5, error = $6
		WHERE id = $1
	`
	result, err := s.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		varsJSON,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending возвращает runs в статусе PENDING.
func (s *RunStore) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT id, flow_id, version, status, args, vars, started_at, finished_at,
		       error, idempotency_key, created_at
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Журнал исполнения ---

// AppendHistory добавляет записи журнала исполнения узлов.
// Записи нумеруются продолжением существующего журнала run.
func (s *RunStore) AppendHistory(ctx context.Context, runID uuid.UUID, entries []domain.RunHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var nextSeq int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1
		FROM run_history
		WHERE run_id = $1
	`, runID).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("get next history seq: %w", err)
	}

	batch := &pgx.Batch{}
	for i, e := range entries {
		outputJSON, err := json.Marshal(e.Output)
		if err != nil {
			return fmt.Errorf("marshal history output: %w", err)
		}
		batch.Queue(`
			INSERT INTO run_history (run_id, seq, node_id, state, output, error, duration_ms, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, runID, nextSeq+i, e.NodeID, e.State, outputJSON, nullString(e.Error), e.DurationMS, e.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert history entry: %w", err)
		}
	}
	return nil
}

// ListHistory возвращает журнал исполнения run в порядке записей.
func (s *RunStore) ListHistory(ctx context.Context, runID uuid.UUID) ([]domain.RunHistoryEntry, error) {
	query := `
		SELECT run_id, seq, node_id, state, output, error, duration_ms, at
		FROM run_history
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run history: %w", err)
	}
	defer rows.Close()

	var entries []domain.RunHistoryEntry
	for rows.Next() {
		var e domain.RunHistoryEntry
		var outputJSON []byte
		var entryError *string
		if err := rows.Scan(
			&e.RunID,
			&e.Seq,
			&e.NodeID,
			&e.State,
			&outputJSON,
			&entryError,
			&e.DurationMS,
			&e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if outputJSON != nil {
			if err := json.Unmarshal(outputJSON, &e.Output); err != nil {
				return nil, fmt.Errorf("unmarshal history output: %w", err)
			}
		}
		if entryError != nil {
			e.Error = *entryError
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Helpers ---

// scanRun сканирует строку в Run. pgx.Row и pgx.Rows разделяют
// интерфейс Scan, поэтому хелпер один.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var argsJSON, varsJSON []byte
	var idempotencyKey *string
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.FlowID,
		&run.Version,
		&run.Status,
		&argsJSON,
		&varsJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&runError,
		&idempotencyKey,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if argsJSON != nil {
		if err := json.Unmarshal(argsJSON, &run.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args: %w", err)
		}
	}
	if varsJSON != nil {
		if err := json.Unmarshal(varsJSON, &run.Vars); err != nil {
			return nil, fmt.Errorf("unmarshal vars: %w", err)
		}
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}

// nullInt возвращает nil для нулевого int.
func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
