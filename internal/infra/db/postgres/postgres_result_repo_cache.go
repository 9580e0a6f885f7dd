package postgres

import (
	"context"

	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
	"image-analysis-backend/internal/infra/metrics"
	red "image-analysis-backend/internal/infra/redis"
)

var _ repository.ResultRepository = (*resultRepoCacheDecorator)(nil)

// resultRepoCacheDecorator caches unpacked payloads per (image, method).
// Every write for a pair invalidates its entry; reads fall through to the
// inner repo on miss.
type resultRepoCacheDecorator struct {
	inner repository.ResultRepository
	cache *red.ResultCache
}

func NewResultRepoCacheDecorator(inner repository.ResultRepository, cache *red.ResultCache) repository.ResultRepository {
	return &resultRepoCacheDecorator{inner: inner, cache: cache}
}

func (d *resultRepoCacheDecorator) GetLatestUnpacked(ctx context.Context, imageID int64, method string) (map[string]any, error) {
	if m, ok := d.cache.Get(ctx, imageID, method); ok {
		metrics.IncCacheRequest("result", "hit")
		return m, nil
	}
	metrics.IncCacheRequest("result", "miss")

	m, err := d.inner.GetLatestUnpacked(ctx, imageID, method)
	if err != nil {
		return nil, err
	}
	// Only settled outcomes are worth caching; "processing" changes shortly.
	if s, _ := m["status"].(string); s != model.ResultStatusProcessing {
		_ = d.cache.Store(ctx, imageID, method, m)
	}
	return m, nil
}

func (d *resultRepoCacheDecorator) CreatePending(ctx context.Context, imageID int64, method string, parameters map[string]any, replace bool) (*model.ResultRecord, error) {
	_ = d.cache.Invalidate(ctx, imageID, method)
	return d.inner.CreatePending(ctx, imageID, method, parameters, replace)
}

func (d *resultRepoCacheDecorator) UpdateData(ctx context.Context, id string, data map[string]any, resources []model.ResourceRef) (*model.ResultRecord, error) {
	rec, err := d.inner.UpdateData(ctx, id, data, resources)
	if err == nil && rec != nil {
		_ = d.cache.Invalidate(ctx, rec.ImageID, rec.Method)
	}
	return rec, err
}

func (d *resultRepoCacheDecorator) MarkFailed(ctx context.Context, id string, message string) error {
	rec, err := d.inner.UpdateData(ctx, id, model.FailedData(message), nil)
	if err == nil && rec != nil {
		_ = d.cache.Invalidate(ctx, rec.ImageID, rec.Method)
	}
	return err
}

func (d *resultRepoCacheDecorator) GetLatest(ctx context.Context, imageID int64, method string) (*model.ResultRecord, error) {
	return d.inner.GetLatest(ctx, imageID, method)
}

func (d *resultRepoCacheDecorator) ListByImage(ctx context.Context, tx repository.Tx, imageID int64) ([]*model.ResultRecord, error) {
	return d.inner.ListByImage(ctx, tx, imageID)
}

func (d *resultRepoCacheDecorator) DeleteForImage(ctx context.Context, imageID int64) error {
	// Method set for the image is unknown here; entries expire by TTL. The
	// image row is gone by the time readers would ask, so stale entries are
	// unreachable through the API.
	return d.inner.DeleteForImage(ctx, imageID)
}
