package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/fdl/internal/domain"
	"github.com/shaiso/fdl/internal/mq"
	"github.com/shaiso/fdl/internal/store"
)

// handleRunRequested обрабатывает заявку на прогон из очереди runs.requested.
func (w *Worker) handleRunRequested(ctx context.Context, delivery *mq.Delivery) error {
	// Парсим payload
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse run.requested payload", "error", err)
		return err
	}

	w.logger.Debug("received run.requested event",
		"run_id", payload.RunID,
		"flow_id", payload.FlowID,
	)

	// Обрабатываем run
	if err := w.processRun(ctx, payload.RunID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrRunNotPending) {
			w.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// processRun загружает run из БД, исполняет flow и сохраняет результат.
func (w *Worker) processRun(ctx context.Context, runID uuid.UUID) error {
	// 1. Загружаем run из БД
	run, err := w.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	// 2. Проверяем статус
	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	// 3. Загружаем исходный текст версии flow
	version, err := w.flows.GetVersion(ctx, run.FlowID, run.Version)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return w.failRun(ctx, run, fmt.Sprintf("flow version %d not found", run.Version))
		}
		return fmt.Errorf("get flow version: %w", err)
	}

	// 4. Помечаем как running
	run.MarkRunning()
	if err := w.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to running: %w", err)
	}

	w.logger.Info("run started",
		"run_id", run.ID,
		"flow_id", run.FlowID,
		"version", run.Version,
	)

	// 5. Исполняем flow
	result, execErr := w.runner.Execute(ctx, run, version.Source)

	// 6. Сохраняем журнал исполнения (и при ошибке — пройденную часть)
	if result != nil && len(result.History) > 0 {
		if err := w.runs.AppendHistory(ctx, run.ID, result.History); err != nil {
			w.logger.Error("failed to append run history",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	// 7. Обрабатываем результат
	if execErr == nil {
		run.MarkSucceeded(result.Vars)
		if err := w.runs.Update(ctx, run); err != nil {
			return fmt.Errorf("update run to succeeded: %w", err)
		}

		w.logger.Info("run succeeded",
			"run_id", run.ID,
			"flow_id", run.FlowID,
		)

		return w.publishCompletion(ctx, run)
	}

	errMsg := execErr.Error()
	if result != nil {
		run.Vars = result.Vars
	}
	run.MarkFailed(errMsg)
	if err := w.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}

	w.logger.Warn("run failed",
		"run_id", run.ID,
		"flow_id", run.FlowID,
		"error", errMsg,
	)

	return w.publishCompletion(ctx, run)
}

// failRun помечает run как FAILED без исполнения.
func (w *Worker) failRun(ctx context.Context, run *domain.Run, errMsg string) error {
	run.MarkFailed(errMsg)
	if err := w.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}
	return w.publishCompletion(ctx, run)
}

// publishCompletion публикует событие run.completed.
func (w *Worker) publishCompletion(ctx context.Context, run *domain.Run) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping run.completed publish",
			"run_id", run.ID,
		)
		return nil
	}

	payload := mq.RunCompletedPayload{
		RunID:  run.ID,
		FlowID: run.FlowID,
		Status: string(run.Status),
		Error:  run.Error,
	}

	if err := w.publisher.PublishRunCompleted(ctx, payload); err != nil {
		w.logger.Warn("failed to publish run.completed",
			"run_id", run.ID,
			"error", err,
		)
		// Не возвращаем ошибку — run обновлён в БД
	}

	return nil
}
