package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
	"image-analysis-backend/internal/infra/logging"
	"image-analysis-backend/internal/infra/storage"
)

// Compile-time check
var _ DatasetUseCase = (*datasetUC)(nil)

type DatasetUseCase interface {
	Create(ctx context.Context, title, description string) (*model.Dataset, error)
	Get(ctx context.Context, id int64) (*model.Dataset, []*model.Image, error)
	List(ctx context.Context) ([]*model.Dataset, error)
	// Delete removes the dataset, its images, their result records, and every
	// stored file under the dataset's directories.
	Delete(ctx context.Context, id int64) error
}

type datasetUC struct {
	datasets repository.DatasetRepository
	images   repository.ImageRepository
	results  repository.ResultRepository
	files    *storage.Files

	log *zerolog.Logger
}

func NewDatasetUseCase(
	datasets repository.DatasetRepository,
	images repository.ImageRepository,
	results repository.ResultRepository,
	files *storage.Files,
	logger *zerolog.Logger,
) *datasetUC {
	return &datasetUC{datasets: datasets, images: images, results: results, files: files, log: logger}
}

func (u *datasetUC) Create(ctx context.Context, title, description string) (*model.Dataset, error) {
	ds, err := model.NewDataset(title, description)
	if err != nil {
		return nil, err
	}
	if err := u.datasets.Save(ctx, repository.NoTX, ds); err != nil {
		return nil, err
	}
	u.log.Info().Int64("dataset_id", ds.ID).Str("title", ds.Title).Msg("dataset created")
	return ds, nil
}

func (u *datasetUC) Get(ctx context.Context, id int64) (*model.Dataset, []*model.Image, error) {
	ds, err := u.datasets.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, nil, err
	}
	imgs, err := u.images.ListByDataset(ctx, repository.NoTX, id)
	if err != nil {
		return nil, nil, err
	}
	return ds, imgs, nil
}

func (u *datasetUC) List(ctx context.Context) ([]*model.Dataset, error) {
	return u.datasets.ListAll(ctx, repository.NoTX)
}

func (u *datasetUC) Delete(ctx context.Context, id int64) error {
	defer logging.TraceDuration(u.log, "DatasetUC.Delete")()
	ctx = logging.WithDatasetID(ctx, id)

	imgs, err := u.images.ListByDataset(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	// Result rows first so their resource files are located and removed
	// before the cascade drops the rows.
	for _, img := range imgs {
		if err := u.results.DeleteForImage(ctx, img.ID); err != nil {
			return err
		}
	}
	if err := u.datasets.Delete(ctx, repository.NoTX, id); err != nil {
		return err
	}
	u.files.RemoveDirSafe(u.files.ImagesDir(id))
	u.files.RemoveDirSafe(u.files.ResultsDir(id))
	logging.With(ctx, u.log).Info().Int("images", len(imgs)).Msg("dataset deleted")
	return nil
}
