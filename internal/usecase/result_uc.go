package usecase

import (
	"context"
	"fmt"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
)

// Compile-time check
var _ ResultUseCase = (*resultUC)(nil)

type ResultUseCase interface {
	// Latest returns the unpacked view of the newest record for the pair.
	Latest(ctx context.Context, imageID int64, method string) (map[string]any, error)
	ListByImage(ctx context.Context, imageID int64) ([]*model.ResultRecord, error)
}

type resultUC struct {
	images  repository.ImageRepository
	results repository.ResultRepository
}

func NewResultUseCase(images repository.ImageRepository, results repository.ResultRepository) *resultUC {
	return &resultUC{images: images, results: results}
}

func knownMethod(method string) bool {
	switch method {
	case model.MethodCluster, model.MethodBrightness, model.MethodBlur, model.MethodCrop:
		return true
	}
	return false
}

func (u *resultUC) Latest(ctx context.Context, imageID int64, method string) (map[string]any, error) {
	if !knownMethod(method) {
		return nil, fmt.Errorf("%w: unknown analysis method %q", domain.ErrInvalidArgument, method)
	}
	if _, err := u.images.FindByID(ctx, repository.NoTX, imageID); err != nil {
		return nil, err
	}
	return u.results.GetLatestUnpacked(ctx, imageID, method)
}

func (u *resultUC) ListByImage(ctx context.Context, imageID int64) ([]*model.ResultRecord, error) {
	if _, err := u.images.FindByID(ctx, repository.NoTX, imageID); err != nil {
		return nil, err
	}
	return u.results.ListByImage(ctx, repository.NoTX, imageID)
}
