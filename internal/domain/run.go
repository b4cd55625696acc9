package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения flow.
//
// Run создаётся когда:
// - Пользователь запускает flow вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
//
// Каждый run исполняет конкретную версию flow и ведёт журнал
// исполнения узлов (RunHistoryEntry).
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// FlowID — ссылка на flow, который выполняется.
	FlowID uuid.UUID `json:"flow_id"`

	// Version — версия flow, которая выполняется.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Args — входные аргументы, переданные при запуске.
	// Доступны выражениям через $args и $input.
	Args map[string]any `json:"args,omitempty"`

	// Vars — снимок переменных на момент завершения прогона.
	Vars map[string]any `json:"vars,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	// Nil, если run ещё не начался.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	// Nil, если run ещё выполняется.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Например, для scheduled runs: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED со снимком переменных.
func (r *Run) MarkSucceeded(vars map[string]any) {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
	r.Vars = vars
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}

// RunHistoryEntry — запись журнала исполнения одного узла.
//
// Записи добавляются в порядке исполнения и никогда не изменяются.
type RunHistoryEntry struct {
	// RunID — ссылка на run.
	RunID uuid.UUID `json:"run_id"`

	// Seq — порядковый номер записи в журнале run.
	Seq int `json:"seq"`

	// NodeID — узел flow, к которому относится запись.
	NodeID string `json:"node_id"`

	// State — итог исполнения узла: completed либо error.
	State string `json:"state"`

	// Output — результат узла (JSONB).
	Output any `json:"output,omitempty"`

	// Error — текст ошибки узла.
	Error string `json:"error,omitempty"`

	// DurationMS — длительность исполнения узла в миллисекундах.
	DurationMS int64 `json:"duration_ms"`

	// Timestamp — время исполнения узла.
	Timestamp time.Time `json:"timestamp"`
}
