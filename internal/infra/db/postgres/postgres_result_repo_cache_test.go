package postgres

import (
	"context"
	"testing"
	"time"

	"image-analysis-backend/internal/domain/model"
	red "image-analysis-backend/internal/infra/redis"
)

func newCacheUnderTest(inner *mockResultRepo) (*resultRepoCacheDecorator, *red.ResultCache) {
	cache := red.NewResultCache(newMemRedis(), time.Minute)
	return NewResultRepoCacheDecorator(inner, cache).(*resultRepoCacheDecorator), cache
}

func TestResultRepoCache_GetLatestUnpacked(t *testing.T) {
	ctx := context.Background()

	t.Run("second read is served from cache", func(t *testing.T) {
		calls := 0
		inner := &mockResultRepo{
			GetLatestUnpackedFunc: func(ctx context.Context, imageID int64, method string) (map[string]any, error) {
				calls++
				return map[string]any{"status": "completed", "k": float64(3)}, nil
			},
		}
		d, _ := newCacheUnderTest(inner)

		for i := 0; i < 2; i++ {
			m, err := d.GetLatestUnpacked(ctx, 7, "cluster")
			if err != nil {
				t.Fatalf("GetLatestUnpacked: %v", err)
			}
			if m["status"] != "completed" || m["k"] != float64(3) {
				t.Errorf("unexpected payload: %v", m)
			}
		}
		if calls != 1 {
			t.Errorf("expected one store read, got %d", calls)
		}
	})

	t.Run("processing payloads are not cached", func(t *testing.T) {
		calls := 0
		inner := &mockResultRepo{
			GetLatestUnpackedFunc: func(ctx context.Context, imageID int64, method string) (map[string]any, error) {
				calls++
				return map[string]any{"status": model.ResultStatusProcessing, "progress": float64(40)}, nil
			},
		}
		d, _ := newCacheUnderTest(inner)

		d.GetLatestUnpacked(ctx, 7, "cluster")
		d.GetLatestUnpacked(ctx, 7, "cluster")
		if calls != 2 {
			t.Errorf("processing result must not be cached, got %d store reads", calls)
		}
	})
}

func TestResultRepoCache_WritesInvalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatePending drops the stale entry", func(t *testing.T) {
		inner := &mockResultRepo{
			CreatePendingFunc: func(ctx context.Context, imageID int64, method string, _ map[string]any, _ bool) (*model.ResultRecord, error) {
				return &model.ResultRecord{ID: "x", ImageID: imageID, Method: method}, nil
			},
		}
		d, cache := newCacheUnderTest(inner)
		if err := cache.Store(ctx, 7, "cluster", map[string]any{"status": "completed"}); err != nil {
			t.Fatal(err)
		}

		if _, err := d.CreatePending(ctx, 7, "cluster", nil, true); err != nil {
			t.Fatal(err)
		}
		if _, ok := cache.Get(ctx, 7, "cluster"); ok {
			t.Error("expected entry invalidated after CreatePending")
		}
	})

	t.Run("UpdateData invalidates by the record's own pair", func(t *testing.T) {
		inner := &mockResultRepo{
			UpdateDataFunc: func(ctx context.Context, id string, _ map[string]any, _ []model.ResourceRef) (*model.ResultRecord, error) {
				return &model.ResultRecord{ID: id, ImageID: 9, Method: "crop"}, nil
			},
		}
		d, cache := newCacheUnderTest(inner)
		if err := cache.Store(ctx, 9, "crop", map[string]any{"status": "completed"}); err != nil {
			t.Fatal(err)
		}

		if _, err := d.UpdateData(ctx, "x", map[string]any{"status": "completed"}, nil); err != nil {
			t.Fatal(err)
		}
		if _, ok := cache.Get(ctx, 9, "crop"); ok {
			t.Error("expected entry invalidated after UpdateData")
		}
	})

	t.Run("UpdateData on a vanished record leaves the cache alone", func(t *testing.T) {
		inner := &mockResultRepo{
			UpdateDataFunc: func(ctx context.Context, id string, _ map[string]any, _ []model.ResourceRef) (*model.ResultRecord, error) {
				return nil, nil
			},
		}
		d, cache := newCacheUnderTest(inner)
		if err := cache.Store(ctx, 9, "crop", map[string]any{"status": "completed"}); err != nil {
			t.Fatal(err)
		}

		rec, err := d.UpdateData(ctx, "gone", map[string]any{"status": "completed"}, nil)
		if err != nil || rec != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
		}
		if _, ok := cache.Get(ctx, 9, "crop"); !ok {
			t.Error("unrelated entry must survive")
		}
	})
}
