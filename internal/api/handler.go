package api

import (
	"log/slog"

	"github.com/shaiso/fdl/internal/mq"
	"github.com/shaiso/fdl/internal/store"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	flows     *store.FlowStore
	runs      *store.RunStore
	schedules *store.ScheduleStore
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Flows     *store.FlowStore
	Runs      *store.RunStore
	Schedules *store.ScheduleStore
	Publisher *mq.Publisher
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		flows:     cfg.Flows,
		runs:      cfg.Runs,
		schedules: cfg.Schedules,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}
