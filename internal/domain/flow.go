package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow — зарегистрированное определение рабочего процесса.
//
// Flow — это "шаблон" автоматизации. Один flow может иметь множество
// версий (FlowVersion); каждый запуск (Run) исполняет конкретную версию.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя flow (например, "sync-orders", "daily-report").
	Name string `json:"name"`

	// Description — описание назначения flow.
	Description string `json:"description,omitempty"`

	// IsActive — флаг активности. Неактивные flows не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания flow.
	CreatedAt time.Time `json:"created_at"`
}

// FlowVersion — версия flow с конкретным определением.
//
// Версионирование позволяет:
// - Отслеживать историю изменений
// - Откатываться к предыдущим версиям
// - Запускать старые версии для сравнения
type FlowVersion struct {
	// FlowID — ссылка на родительский flow.
	FlowID uuid.UUID `json:"flow_id"`

	// Version — номер версии (1, 2, 3, ...).
	// Автоинкремент при создании новой версии.
	Version int `json:"version"`

	// Source — определение flow в формате YAML: узлы, рёбра,
	// стартовые переменные. Разбирается пакетом flow.
	Source string `json:"source"`

	// CreatedAt — время создания версии.
	CreatedAt time.Time `json:"created_at"`
}
