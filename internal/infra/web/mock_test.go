package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/config"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/infra/jobs"
	"image-analysis-backend/internal/usecase"
)

// Function-field mocks; tests set only what a route should touch.

type mockDatasetUC struct {
	CreateFunc func(ctx context.Context, title, description string) (*model.Dataset, error)
	GetFunc    func(ctx context.Context, id int64) (*model.Dataset, []*model.Image, error)
	ListFunc   func(ctx context.Context) ([]*model.Dataset, error)
	DeleteFunc func(ctx context.Context, id int64) error
}

var _ usecase.DatasetUseCase = (*mockDatasetUC)(nil)

func (m *mockDatasetUC) Create(ctx context.Context, title, description string) (*model.Dataset, error) {
	return m.CreateFunc(ctx, title, description)
}

func (m *mockDatasetUC) Get(ctx context.Context, id int64) (*model.Dataset, []*model.Image, error) {
	return m.GetFunc(ctx, id)
}

func (m *mockDatasetUC) List(ctx context.Context) ([]*model.Dataset, error) { return m.ListFunc(ctx) }

func (m *mockDatasetUC) Delete(ctx context.Context, id int64) error { return m.DeleteFunc(ctx, id) }

type mockImageUC struct {
	UploadFunc   func(ctx context.Context, datasetID int64, originalFilename string, r io.Reader) (*model.Image, error)
	GetFunc      func(ctx context.Context, id int64) (*model.Image, error)
	FilePathFunc func(ctx context.Context, id int64) (string, error)
	DeleteFunc   func(ctx context.Context, id int64) error
}

var _ usecase.ImageUseCase = (*mockImageUC)(nil)

func (m *mockImageUC) Upload(ctx context.Context, datasetID int64, originalFilename string, r io.Reader) (*model.Image, error) {
	return m.UploadFunc(ctx, datasetID, originalFilename, r)
}

func (m *mockImageUC) Get(ctx context.Context, id int64) (*model.Image, error) {
	return m.GetFunc(ctx, id)
}

func (m *mockImageUC) FilePath(ctx context.Context, id int64) (string, error) {
	return m.FilePathFunc(ctx, id)
}

func (m *mockImageUC) Delete(ctx context.Context, id int64) error { return m.DeleteFunc(ctx, id) }

type mockResultUC struct {
	LatestFunc      func(ctx context.Context, imageID int64, method string) (map[string]any, error)
	ListByImageFunc func(ctx context.Context, imageID int64) ([]*model.ResultRecord, error)
}

var _ usecase.ResultUseCase = (*mockResultUC)(nil)

func (m *mockResultUC) Latest(ctx context.Context, imageID int64, method string) (map[string]any, error) {
	return m.LatestFunc(ctx, imageID, method)
}

func (m *mockResultUC) ListByImage(ctx context.Context, imageID int64) ([]*model.ResultRecord, error) {
	return m.ListByImageFunc(ctx, imageID)
}

type mockJobUC struct {
	GetFunc    func(id string) (*model.Job, error)
	ListFunc   func(status string, start, limit int) ([]*model.Job, int, error)
	StatsFunc  func() map[string]int
	ResultFunc func(id string) (any, error)
	CancelFunc func(id string) error
	RemoveFunc func(id string) error
	ClearFunc  func(force bool) int
}

var _ usecase.JobUseCase = (*mockJobUC)(nil)

func (m *mockJobUC) Get(id string) (*model.Job, error) { return m.GetFunc(id) }

func (m *mockJobUC) List(status string, start, limit int) ([]*model.Job, int, error) {
	return m.ListFunc(status, start, limit)
}

func (m *mockJobUC) Stats() map[string]int { return m.StatsFunc() }

func (m *mockJobUC) Result(id string) (any, error) { return m.ResultFunc(id) }

func (m *mockJobUC) Cancel(id string) error { return m.CancelFunc(id) }

func (m *mockJobUC) Remove(id string) error { return m.RemoveFunc(id) }

func (m *mockJobUC) Clear(force bool) int { return m.ClearFunc(force) }

type mockAnalysisUC struct {
	ClusterFunc    func(ctx context.Context, imageID int64, k int) (string, error)
	BrightnessFunc func(ctx context.Context, imageID int64, verticalLines, horizontalLines []int) (map[string]any, error)
	BlurFunc       func(ctx context.Context, imageID int64, kernelSize int, sigma float64) (string, error)
	CropFunc       func(ctx context.Context, imageID int64) (string, error)
}

var _ usecase.AnalysisUseCase = (*mockAnalysisUC)(nil)

func (m *mockAnalysisUC) Cluster(ctx context.Context, imageID int64, k int) (string, error) {
	return m.ClusterFunc(ctx, imageID, k)
}

func (m *mockAnalysisUC) Brightness(ctx context.Context, imageID int64, verticalLines, horizontalLines []int) (map[string]any, error) {
	return m.BrightnessFunc(ctx, imageID, verticalLines, horizontalLines)
}

func (m *mockAnalysisUC) Blur(ctx context.Context, imageID int64, kernelSize int, sigma float64) (string, error) {
	return m.BlurFunc(ctx, imageID, kernelSize, sigma)
}

func (m *mockAnalysisUC) Crop(ctx context.Context, imageID int64) (string, error) {
	return m.CropFunc(ctx, imageID)
}

type mockArchiveUC struct {
	ExportFunc         func(ctx context.Context, datasetID int64) (string, error)
	ImportFunc         func(ctx context.Context, archivePath string) (string, error)
	ExportFilePathFunc func(filename string) (string, error)
}

var _ usecase.ArchiveUseCase = (*mockArchiveUC)(nil)

func (m *mockArchiveUC) Export(ctx context.Context, datasetID int64) (string, error) {
	return m.ExportFunc(ctx, datasetID)
}

func (m *mockArchiveUC) Import(ctx context.Context, archivePath string) (string, error) {
	return m.ImportFunc(ctx, archivePath)
}

func (m *mockArchiveUC) ExportFilePath(filename string) (string, error) {
	return m.ExportFilePathFunc(filename)
}

// serverMocks bundles one mock per usecase; newTestServer wires them into a
// router backed by a real registry.
type serverMocks struct {
	datasets *mockDatasetUC
	images   *mockImageUC
	results  *mockResultUC
	jobs     *mockJobUC
	analysis *mockAnalysisUC
	archive  *mockArchiveUC
	registry *jobs.Registry
}

func newTestServer(t *testing.T) (*httptest.Server, *serverMocks) {
	t.Helper()
	logger := zerolog.Nop()
	registry := jobs.NewRegistry(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	go registry.Run(ctx)
	t.Cleanup(cancel)

	m := &serverMocks{
		datasets: &mockDatasetUC{},
		images:   &mockImageUC{},
		results:  &mockResultUC{},
		jobs:     &mockJobUC{},
		analysis: &mockAnalysisUC{},
		archive:  &mockArchiveUC{},
		registry: registry,
	}
	cfg := &config.Config{}
	cfg.Server.Port = 0
	srv := NewServer(cfg, m.datasets, m.images, m.results, m.jobs, m.analysis, m.archive, registry, nil, &logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, m
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, ts.URL+path, nil)
	} else {
		req, err = http.NewRequest(method, ts.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}
