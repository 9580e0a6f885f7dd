package repository

import (
	"context"

	"image-analysis-backend/internal/domain/model"
)

// ImageRepository is the port for image-row persistence. File contents live
// on disk under the storage layout; rows only carry names.
type ImageRepository interface {
	Save(ctx context.Context, tx Tx, img *model.Image) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Image, error)
	ListByDataset(ctx context.Context, tx Tx, datasetID int64) ([]*model.Image, error)
	Delete(ctx context.Context, tx Tx, id int64) error
}
