package engine

import (
	"context"

	"linkrunner/internal/model"
)

// Store is the persistence the engine needs. LoadRun returns (nil, nil) when
// no run of that mode is stored.
type Store interface {
	LoadSettings(ctx context.Context) (model.Settings, error)
	LoadPools(ctx context.Context) (model.DomainPools, error)
	LoadProjects(ctx context.Context) ([]*model.Project, error)
	SaveProjects(ctx context.Context, projects []*model.Project) error
	LoadRun(ctx context.Context, mode model.Mode) (*model.Run, error)
	SaveRun(ctx context.Context, run *model.Run) error
	ClearRun(ctx context.Context, mode model.Mode) error
}
