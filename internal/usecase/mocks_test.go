package usecase

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/adapter"
	"image-analysis-backend/internal/domain/ports/repository"
)

// In-memory fakes shared by the usecase tests.

type fakeDatasetRepo struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*model.Dataset
}

func newFakeDatasetRepo() *fakeDatasetRepo {
	return &fakeDatasetRepo{rows: make(map[int64]*model.Dataset)}
}

func (r *fakeDatasetRepo) Save(_ context.Context, _ repository.Tx, ds *model.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds.ID == 0 {
		r.seq++
		ds.ID = r.seq
	}
	cp := *ds
	r.rows[ds.ID] = &cp
	return nil
}

func (r *fakeDatasetRepo) FindByID(_ context.Context, _ repository.Tx, id int64) (*model.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ds
	return &cp, nil
}

func (r *fakeDatasetRepo) ListAll(_ context.Context, _ repository.Tx) ([]*model.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Dataset, 0, len(r.rows))
	for _, ds := range r.rows {
		cp := *ds
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeDatasetRepo) Delete(_ context.Context, _ repository.Tx, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

type fakeImageRepo struct {
	mu      sync.Mutex
	seq     int64
	rows    map[int64]*model.Image
	saveErr error
}

func newFakeImageRepo() *fakeImageRepo {
	return &fakeImageRepo{rows: make(map[int64]*model.Image)}
}

func (r *fakeImageRepo) Save(_ context.Context, _ repository.Tx, img *model.Image) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if img.ID == 0 {
		r.seq++
		img.ID = r.seq
	}
	cp := *img
	r.rows[img.ID] = &cp
	return nil
}

func (r *fakeImageRepo) FindByID(_ context.Context, _ repository.Tx, id int64) (*model.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (r *fakeImageRepo) ListByDataset(_ context.Context, _ repository.Tx, datasetID int64) ([]*model.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Image
	for id := int64(1); id <= r.seq; id++ {
		if img, ok := r.rows[id]; ok && img.DatasetID == datasetID {
			cp := *img
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeImageRepo) Delete(_ context.Context, _ repository.Tx, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

type fakeResultRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[string]*model.ResultRecord

	createErr error
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{rows: make(map[string]*model.ResultRecord)}
}

func (r *fakeResultRepo) CreatePending(_ context.Context, imageID int64, method string, parameters map[string]any, replace bool) (*model.ResultRecord, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if replace {
		for id, rec := range r.rows {
			if rec.ImageID == imageID && rec.Method == method {
				delete(r.rows, id)
			}
		}
	}
	r.seq++
	rec := &model.ResultRecord{
		ID:        fmt.Sprintf("rec-%03d", r.seq),
		ImageID:   imageID,
		Method:    method,
		Payload:   model.PendingEnvelope(parameters),
		CreatedAt: time.Now(),
	}
	cp := *rec
	r.rows[rec.ID] = rec
	return &cp, nil
}

func (r *fakeResultRepo) UpdateData(_ context.Context, id string, data map[string]any, resources []model.ResourceRef) (*model.ResultRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	rec.Payload = model.NewEnvelope(rec.Payload.Parameters, data, resources)
	cp := *rec
	return &cp, nil
}

func (r *fakeResultRepo) MarkFailed(ctx context.Context, id string, message string) error {
	_, err := r.UpdateData(ctx, id, model.FailedData(message), nil)
	return err
}

func (r *fakeResultRepo) GetLatest(_ context.Context, imageID int64, method string) (*model.ResultRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.ResultRecord
	for _, rec := range r.rows {
		if rec.ImageID != imageID || rec.Method != method {
			continue
		}
		if latest == nil || rec.ID > latest.ID {
			latest = rec
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeResultRepo) GetLatestUnpacked(ctx context.Context, imageID int64, method string) (map[string]any, error) {
	rec, err := r.GetLatest(ctx, imageID, method)
	if err != nil {
		return nil, err
	}
	return rec.Payload.Unpacked(), nil
}

func (r *fakeResultRepo) ListByImage(_ context.Context, _ repository.Tx, imageID int64) ([]*model.ResultRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ResultRecord
	for _, rec := range r.rows {
		if rec.ImageID == imageID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeResultRepo) DeleteForImage(_ context.Context, imageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.rows {
		if rec.ImageID == imageID {
			delete(r.rows, id)
		}
	}
	return nil
}

func (r *fakeResultRepo) countFor(imageID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.rows {
		if rec.ImageID == imageID {
			n++
		}
	}
	return n
}

// fakeProcessor is a function-field double for the analysis algorithms.
type fakeProcessor struct {
	KMeansFunc       func(ctx context.Context, img image.Image, k int, outPath string, progress adapter.ProgressFunc) (adapter.ClusterOutcome, error)
	MeanGridFunc     func(img image.Image, verticalLines, horizontalLines []int) ([][]float64, error)
	GaussianBlurFunc func(ctx context.Context, img image.Image, kernelSize int, sigma float64, outPath string, progress adapter.ProgressFunc) error
	AutoCropFunc     func(img image.Image) (adapter.CropBounds, error)
}

var _ adapter.ImageProcessor = (*fakeProcessor)(nil)

func (p *fakeProcessor) KMeans(ctx context.Context, img image.Image, k int, outPath string, progress adapter.ProgressFunc) (adapter.ClusterOutcome, error) {
	return p.KMeansFunc(ctx, img, k, outPath, progress)
}

func (p *fakeProcessor) MeanGrid(img image.Image, verticalLines, horizontalLines []int) ([][]float64, error) {
	return p.MeanGridFunc(img, verticalLines, horizontalLines)
}

func (p *fakeProcessor) GaussianBlur(ctx context.Context, img image.Image, kernelSize int, sigma float64, outPath string, progress adapter.ProgressFunc) error {
	return p.GaussianBlurFunc(ctx, img, kernelSize, sigma, outPath, progress)
}

func (p *fakeProcessor) AutoCrop(img image.Image) (adapter.CropBounds, error) {
	return p.AutoCropFunc(img)
}

// fakeLoader hands back a fixed in-memory image without touching disk.
type fakeLoader struct {
	err error
}

var _ adapter.ImageLoader = (*fakeLoader)(nil)

func (l *fakeLoader) Load(string) (image.Image, error) {
	if l.err != nil {
		return nil, l.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
	return img, nil
}
