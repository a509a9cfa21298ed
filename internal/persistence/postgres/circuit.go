package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flowforge/flowexec/internal/domain"
)

func (s *Store) Get(ctx context.Context, circuitID string) (domain.CircuitBreakerState, bool, error) {
	model := new(circuitBreakerModel)
	err := s.db.NewSelect().Model(model).Where("circuit_id = ?", circuitID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CircuitBreakerState{}, false, nil
	}
	if err != nil {
		return domain.CircuitBreakerState{}, false, err
	}
	return circuitStateFromModel(*model), true, nil
}

func (s *Store) Set(ctx context.Context, state domain.CircuitBreakerState) error {
	model := &circuitBreakerModel{
		CircuitID:           state.CircuitID,
		State:               string(state.State),
		ConsecutiveFailures: state.ConsecutiveFailures,
		OpenedAt:            state.OpenedAt,
		NextAttemptAt:       state.NextAttemptAt,
	}
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (circuit_id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) ListAll(ctx context.Context) ([]domain.CircuitBreakerState, error) {
	var models []circuitBreakerModel
	if err := s.db.NewSelect().Model(&models).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.CircuitBreakerState, len(models))
	for i, m := range models {
		out[i] = circuitStateFromModel(m)
	}
	return out, nil
}

func (s *Store) Reset(ctx context.Context, circuitID string) error {
	_, err := s.db.NewDelete().Model((*circuitBreakerModel)(nil)).Where("circuit_id = ?", circuitID).Exec(ctx)
	return err
}
