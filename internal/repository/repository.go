package repository

import (
	"context"

	"github.com/sakif/python-sandbox/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ExecutionRepository stores finished execution records.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *model.Execution) error
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	List(ctx context.Context, opts ListOptions) ([]model.Execution, error)
}
