package repository

import (
	"context"

	"github.com/splax/memtimeline/internal/domain"
)

// RunFilter narrows ListRuns. An empty Label matches every run.
type RunFilter struct {
	Label string
	Limit int
}

// RunRepository persists aggregation runs and their series.
type RunRepository interface {
	InsertRun(ctx context.Context, run *domain.AggregationRun) error
	GetRun(ctx context.Context, id string) (*domain.AggregationRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.AggregationRun, error)
}
