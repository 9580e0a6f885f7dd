package repository

import (
	"context"

	"image-analysis-backend/internal/domain/model"
)

// DatasetRepository is the port for dataset persistence.
type DatasetRepository interface {
	Save(ctx context.Context, tx Tx, ds *model.Dataset) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Dataset, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Dataset, error)
	Delete(ctx context.Context, tx Tx, id int64) error
}
