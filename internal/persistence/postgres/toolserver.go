package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/flowforge/flowexec/internal/domain"
)

func (s *Store) SaveToolServer(ctx context.Context, reg domain.ToolServerRegistration) error {
	args, err := json.Marshal(reg.Args)
	if err != nil {
		return err
	}
	env, err := json.Marshal(reg.Env)
	if err != nil {
		return err
	}
	schemas, err := json.Marshal(reg.ToolSchemas)
	if err != nil {
		return err
	}
	model := &toolServerModel{
		ID:              reg.ID,
		UserID:          reg.UserID,
		Name:            reg.Name,
		Command:         reg.Command,
		Args:            args,
		Env:             env,
		Status:          string(reg.Status),
		LastHealthCheck: reg.LastHealthCheck,
		ToolSchemas:     schemas,
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) GetToolServer(ctx context.Context, userID, name string) (domain.ToolServerRegistration, bool, error) {
	model := new(toolServerModel)
	err := s.db.NewSelect().Model(model).Where("user_id = ?", userID).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ToolServerRegistration{}, false, nil
	}
	if err != nil {
		return domain.ToolServerRegistration{}, false, err
	}
	reg, err := toolServerFromModel(*model)
	return reg, true, err
}

func (s *Store) ListToolServers(ctx context.Context, userID string) ([]domain.ToolServerRegistration, error) {
	var models []toolServerModel
	if err := s.db.NewSelect().Model(&models).Where("user_id = ?", userID).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.ToolServerRegistration, 0, len(models))
	for _, m := range models {
		reg, err := toolServerFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, nil
}

func toolServerFromModel(m toolServerModel) (domain.ToolServerRegistration, error) {
	var args []string
	var env map[string]string
	var schemas []domain.ToolSchema
	if err := json.Unmarshal(m.Args, &args); err != nil {
		return domain.ToolServerRegistration{}, err
	}
	if len(m.Env) > 0 {
		if err := json.Unmarshal(m.Env, &env); err != nil {
			return domain.ToolServerRegistration{}, err
		}
	}
	if len(m.ToolSchemas) > 0 {
		if err := json.Unmarshal(m.ToolSchemas, &schemas); err != nil {
			return domain.ToolServerRegistration{}, err
		}
	}
	return domain.ToolServerRegistration{
		ID:              m.ID,
		UserID:          m.UserID,
		Name:            m.Name,
		Command:         m.Command,
		Args:            args,
		Env:             env,
		Status:          domain.ToolServerStatus(m.Status),
		LastHealthCheck: m.LastHealthCheck,
		ToolSchemas:     schemas,
	}, nil
}

func (s *Store) LoadCode(ctx context.Context, codeID string) (string, error) {
	model := new(codeModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", codeID).Scan(ctx); err != nil {
		return "", err
	}
	return model.Source, nil
}

func (s *Store) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	model := &workflowModel{
		ID:          wf.ID.String(),
		UserID:      wf.UserID.String(),
		Name:        wf.Name,
		Description: wf.Description,
		Document:    doc,
	}
	_, err = s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	model := new(workflowModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	var wf domain.Workflow
	if err := json.Unmarshal(model.Document, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	var models []workflowModel
	if err := s.db.NewSelect().Model(&models).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Workflow, 0, len(models))
	for _, m := range models {
		var wf domain.Workflow
		if err := json.Unmarshal(m.Document, &wf); err != nil {
			return nil, err
		}
		out = append(out, &wf)
	}
	return out, nil
}
