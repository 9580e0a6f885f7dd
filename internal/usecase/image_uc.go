package usecase

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
	"image-analysis-backend/internal/infra/logging"
	"image-analysis-backend/internal/infra/storage"
)

// Compile-time check
var _ ImageUseCase = (*imageUC)(nil)

type ImageUseCase interface {
	// Upload stores the file under a generated name and registers the row.
	Upload(ctx context.Context, datasetID int64, originalFilename string, r io.Reader) (*model.Image, error)
	Get(ctx context.Context, id int64) (*model.Image, error)
	// FilePath resolves the stored file location for download.
	FilePath(ctx context.Context, id int64) (string, error)
	// Delete removes the row, its result records, and the stored file.
	Delete(ctx context.Context, id int64) error
}

type imageUC struct {
	datasets repository.DatasetRepository
	images   repository.ImageRepository
	results  repository.ResultRepository
	files    *storage.Files

	log *zerolog.Logger
}

func NewImageUseCase(
	datasets repository.DatasetRepository,
	images repository.ImageRepository,
	results repository.ResultRepository,
	files *storage.Files,
	logger *zerolog.Logger,
) *imageUC {
	return &imageUC{datasets: datasets, images: images, results: results, files: files, log: logger}
}

func (u *imageUC) Upload(ctx context.Context, datasetID int64, originalFilename string, r io.Reader) (*model.Image, error) {
	defer logging.TraceDuration(u.log, "ImageUC.Upload")()
	if _, err := u.datasets.FindByID(ctx, repository.NoTX, datasetID); err != nil {
		return nil, err
	}
	img, err := model.NewImage(datasetID, originalFilename)
	if err != nil {
		return nil, err
	}

	path := u.files.ImagePath(datasetID, img.Filename)
	if err := u.files.SaveStream(path, r); err != nil {
		return nil, err
	}
	if err := u.images.Save(ctx, repository.NoTX, img); err != nil {
		// The row is authoritative; an orphan file must not survive it.
		u.files.RemoveFileSafe(path)
		return nil, err
	}
	u.log.Info().Int64("image_id", img.ID).Int64("dataset_id", datasetID).
		Str("filename", img.Filename).Msg("image uploaded")
	return img, nil
}

func (u *imageUC) Get(ctx context.Context, id int64) (*model.Image, error) {
	return u.images.FindByID(ctx, repository.NoTX, id)
}

func (u *imageUC) FilePath(ctx context.Context, id int64) (string, error) {
	img, err := u.images.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return "", err
	}
	return u.files.ImagePath(img.DatasetID, img.Filename), nil
}

func (u *imageUC) Delete(ctx context.Context, id int64) error {
	img, err := u.images.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return err
	}
	if err := u.results.DeleteForImage(ctx, id); err != nil {
		return err
	}
	if err := u.images.Delete(ctx, repository.NoTX, id); err != nil {
		return err
	}
	u.files.RemoveFileSafe(u.files.ImagePath(img.DatasetID, img.Filename))
	u.log.Info().Int64("image_id", id).Msg("image deleted")
	return nil
}
