package postgres

import (
	"context"
	"sync"
	"time"

	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
	red "image-analysis-backend/internal/infra/redis"
)

// mockResultRepo is a function-field mock; tests set only the methods they
// expect to be called.
type mockResultRepo struct {
	CreatePendingFunc     func(ctx context.Context, imageID int64, method string, parameters map[string]any, replace bool) (*model.ResultRecord, error)
	UpdateDataFunc        func(ctx context.Context, id string, data map[string]any, resources []model.ResourceRef) (*model.ResultRecord, error)
	MarkFailedFunc        func(ctx context.Context, id string, message string) error
	GetLatestFunc         func(ctx context.Context, imageID int64, method string) (*model.ResultRecord, error)
	GetLatestUnpackedFunc func(ctx context.Context, imageID int64, method string) (map[string]any, error)
	ListByImageFunc       func(ctx context.Context, tx repository.Tx, imageID int64) ([]*model.ResultRecord, error)
	DeleteForImageFunc    func(ctx context.Context, imageID int64) error
}

var _ repository.ResultRepository = (*mockResultRepo)(nil)

func (m *mockResultRepo) CreatePending(ctx context.Context, imageID int64, method string, parameters map[string]any, replace bool) (*model.ResultRecord, error) {
	return m.CreatePendingFunc(ctx, imageID, method, parameters, replace)
}

func (m *mockResultRepo) UpdateData(ctx context.Context, id string, data map[string]any, resources []model.ResourceRef) (*model.ResultRecord, error) {
	return m.UpdateDataFunc(ctx, id, data, resources)
}

func (m *mockResultRepo) MarkFailed(ctx context.Context, id string, message string) error {
	return m.MarkFailedFunc(ctx, id, message)
}

func (m *mockResultRepo) GetLatest(ctx context.Context, imageID int64, method string) (*model.ResultRecord, error) {
	return m.GetLatestFunc(ctx, imageID, method)
}

func (m *mockResultRepo) GetLatestUnpacked(ctx context.Context, imageID int64, method string) (map[string]any, error) {
	return m.GetLatestUnpackedFunc(ctx, imageID, method)
}

func (m *mockResultRepo) ListByImage(ctx context.Context, tx repository.Tx, imageID int64) ([]*model.ResultRecord, error) {
	return m.ListByImageFunc(ctx, tx, imageID)
}

func (m *mockResultRepo) DeleteForImage(ctx context.Context, imageID int64) error {
	return m.DeleteForImageFunc(ctx, imageID)
}

// memRedis is an in-memory RedisClient good enough for cache tests.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

var _ red.RedisClient = (*memRedis)(nil)

func newMemRedis() *memRedis { return &memRedis{data: make(map[string]string)} }

func (r *memRedis) Ping(ctx context.Context) error { return nil }

func (r *memRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := value.(type) {
	case string:
		r.data[key] = v
	case []byte:
		r.data[key] = string(v)
	}
	return nil
}

func (r *memRedis) Get(ctx context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[key]
	if !ok {
		return "", red.Nil
	}
	return v, nil
}

func (r *memRedis) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }

func (r *memRedis) Expire(ctx context.Context, key string, _ time.Duration) error { return nil }

func (r *memRedis) Del(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.data, k)
	}
	return nil
}

func (r *memRedis) Close() error { return nil }
