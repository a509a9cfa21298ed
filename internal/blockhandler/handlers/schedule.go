package handlers

import (
	"context"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
)

// ScheduleHandler implements the SCHEDULE block kind, which returns its
// config untouched — actual scheduling (cron triggers, external enqueueing
// of ExecutionStart messages) lives outside the execution worker. The node
// exists as a pass-through so the DAG can carry a documented schedule
// without the engine special-casing it.
type ScheduleHandler struct{}

func NewScheduleHandler() *ScheduleHandler { return &ScheduleHandler{} }

func (h *ScheduleHandler) Kind() domain.BlockKind { return domain.BlockKindSchedule }

func (h *ScheduleHandler) Execute(_ context.Context, hctx blockhandler.Context) (map[string]any, error) {
	out := make(map[string]any, len(hctx.Config))
	for k, v := range hctx.Config {
		out[k] = v
	}
	return out, nil
}
