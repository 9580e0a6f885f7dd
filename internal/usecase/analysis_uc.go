package usecase

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/adapter"
	"image-analysis-backend/internal/domain/ports/repository"
	"image-analysis-backend/internal/infra/jobs"
	"image-analysis-backend/internal/infra/logging"
	"image-analysis-backend/internal/infra/storage"
	"image-analysis-backend/internal/infra/worker"
)

// storeTimeout bounds the result-store writes issued from worker goroutines.
// They run on a detached context so a shutting-down request cannot strand a
// committed pending record in "processing".
const storeTimeout = 30 * time.Second

// Compile-time check
var _ AnalysisUseCase = (*analysisUC)(nil)

// AnalysisUseCase orchestrates the fire-and-poll analysis methods: validate
// and load the image synchronously, commit a pending result record, then run
// the computation on the worker pool while the registry mirrors its progress.
type AnalysisUseCase interface {
	// Cluster starts a k-means job and returns its job id.
	Cluster(ctx context.Context, imageID int64, k int) (string, error)
	// Brightness computes grid means synchronously and stores the record.
	Brightness(ctx context.Context, imageID int64, verticalLines, horizontalLines []int) (map[string]any, error)
	// Blur starts a Gaussian blur job producing a derived image resource.
	Blur(ctx context.Context, imageID int64, kernelSize int, sigma float64) (string, error)
	// Crop starts an auto-crop bounds detection job.
	Crop(ctx context.Context, imageID int64) (string, error)
}

type analysisUC struct {
	images    repository.ImageRepository
	results   repository.ResultRepository
	loader    adapter.ImageLoader
	processor adapter.ImageProcessor
	registry  *jobs.Registry
	pool      *worker.Pool
	files     *storage.Files

	log *zerolog.Logger
}

func NewAnalysisUseCase(
	images repository.ImageRepository,
	results repository.ResultRepository,
	loader adapter.ImageLoader,
	processor adapter.ImageProcessor,
	registry *jobs.Registry,
	pool *worker.Pool,
	files *storage.Files,
	logger *zerolog.Logger,
) *analysisUC {
	return &analysisUC{
		images: images, results: results,
		loader: loader, processor: processor,
		registry: registry, pool: pool, files: files,
		log: logger,
	}
}

// computeFunc runs on a worker goroutine and returns the data map and
// resource refs for the record update.
type computeFunc func(ctx context.Context, img image.Image, progress adapter.ProgressFunc) (map[string]any, []model.ResourceRef, error)

// runCompute invokes compute, converting a panic into an ordinary error so
// the submitted closure reconciles the record and the registry the same way
// it does for any computation failure.
func runCompute(ctx context.Context, method string, img image.Image, progress adapter.ProgressFunc, compute computeFunc) (data map[string]any, resources []model.ResourceRef, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", method, r)
		}
	}()
	return compute(ctx, img, progress)
}

// loadImage resolves the image row and decodes its stored file. Both happen
// before any record or job exists, so validation failures leave no trace.
func (u *analysisUC) loadImage(ctx context.Context, imageID int64) (*model.Image, image.Image, error) {
	row, err := u.images.FindByID(ctx, repository.NoTX, imageID)
	if err != nil {
		return nil, nil, err
	}
	decoded, err := u.loader.Load(u.files.ImagePath(row.DatasetID, row.Filename))
	if err != nil {
		return nil, nil, err
	}
	return row, decoded, nil
}

// startJob commits the pending record, registers the job, and submits the
// computation. The worker closure only knows the record id; request-scoped
// state does not leak into it.
func (u *analysisUC) startJob(ctx context.Context, imageID int64, method string, params map[string]any, img image.Image, compute computeFunc) (string, error) {
	rec, err := u.results.CreatePending(ctx, imageID, method, params, true)
	if err != nil {
		return "", err
	}
	job, err := u.registry.Create(method)
	if err != nil {
		return "", err
	}
	recID := rec.ID
	jobID := job.ID

	handle := u.pool.Submit(func(workerCtx context.Context) (any, error) {
		jobLog := logging.With(logging.WithJobID(logging.WithImageID(workerCtx, imageID), jobID), u.log)
		u.registry.MarkProcessing(jobID, "Started "+method+" processing")
		progress := func(pct int, message string) {
			u.registry.UpdateProgress(jobID, pct, message)
		}

		data, resources, err := runCompute(workerCtx, method, img, progress, compute)

		storeCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err != nil {
			if mErr := u.results.MarkFailed(storeCtx, recID, err.Error()); mErr != nil {
				jobLog.Error().Err(mErr).Str("record_id", recID).Msg("failed to mark record failed")
			}
			u.registry.Fail(jobID, err.Error())
			return nil, err
		}
		if _, uErr := u.results.UpdateData(storeCtx, recID, data, resources); uErr != nil {
			u.registry.Fail(jobID, uErr.Error())
			return nil, uErr
		}
		u.registry.Complete(jobID, data)
		jobLog.Debug().Str("record_id", recID).Msg("analysis result stored")
		return data, nil
	})
	u.registry.AttachHandle(jobID, handle)

	// A handle aborted while still queued never runs the closure above, so
	// nothing else would reconcile the committed pending record and a client
	// polling the store would read "processing" forever.
	go func() {
		_, err := handle.Await(context.Background())
		if err == nil || handle.Started() {
			return
		}
		storeCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if mErr := u.results.MarkFailed(storeCtx, recID, "cancelled before start"); mErr != nil {
			u.log.Error().Err(mErr).Str("record_id", recID).Msg("failed to mark record failed")
		}
		u.registry.Fail(jobID, "cancelled before start")
	}()

	u.log.Info().Str("job_id", jobID).Str("record_id", recID).
		Int64("image_id", imageID).Str("method", method).Msg("analysis job queued")
	return jobID, nil
}

func (u *analysisUC) Cluster(ctx context.Context, imageID int64, k int) (string, error) {
	defer logging.TraceDuration(u.log, "AnalysisUC.Cluster")()
	if k < 2 || k > 10 {
		return "", fmt.Errorf("%w: clusters must be between 2 and 10", domain.ErrInvalidArgument)
	}
	row, img, err := u.loadImage(ctx, imageID)
	if err != nil {
		return "", err
	}
	outPath := filepath.Join(u.files.ResultsDir(row.DatasetID), fmt.Sprintf("clustered_%d.png", imageID))

	return u.startJob(ctx, imageID, model.MethodCluster, map[string]any{"k": k}, img,
		func(ctx context.Context, img image.Image, progress adapter.ProgressFunc) (map[string]any, []model.ResourceRef, error) {
			outcome, err := u.processor.KMeans(ctx, img, k, outPath, progress)
			if err != nil {
				return nil, nil, err
			}
			data, err := model.PackData(model.ClusterData{
				Status:        model.ResultStatusCompleted,
				Centers:       outcome.Centers,
				ClustersFound: outcome.ClustersFound,
			})
			if err != nil {
				return nil, nil, err
			}
			resources := []model.ResourceRef{{Type: "image", Key: "clustered_image", Path: outcome.RenderedPath}}
			return data, resources, nil
		})
}

func (u *analysisUC) Brightness(ctx context.Context, imageID int64, verticalLines, horizontalLines []int) (map[string]any, error) {
	defer logging.TraceDuration(u.log, "AnalysisUC.Brightness")()
	_, img, err := u.loadImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	// Line validation lives in the processor; a failure here predates the
	// record, so nothing is stored.
	means, err := u.processor.MeanGrid(img, verticalLines, horizontalLines)
	if err != nil {
		return nil, err
	}

	params := map[string]any{
		"vertical_lines":   verticalLines,
		"horizontal_lines": horizontalLines,
	}
	rec, err := u.results.CreatePending(ctx, imageID, model.MethodBrightness, params, true)
	if err != nil {
		return nil, err
	}
	rows, cols := len(means), 0
	if rows > 0 {
		cols = len(means[0])
	}
	data, err := model.PackData(model.BrightnessGridData{
		Status:       model.ResultStatusCompleted,
		Means:        means,
		GridSize:     fmt.Sprintf("%dx%d", rows, cols),
		RegionsCount: rows * cols,
	})
	if err != nil {
		return nil, err
	}
	if _, err := u.results.UpdateData(ctx, rec.ID, data, nil); err != nil {
		return nil, err
	}
	return u.results.GetLatestUnpacked(ctx, imageID, model.MethodBrightness)
}

func (u *analysisUC) Blur(ctx context.Context, imageID int64, kernelSize int, sigma float64) (string, error) {
	defer logging.TraceDuration(u.log, "AnalysisUC.Blur")()
	if kernelSize < 3 || kernelSize%2 == 0 {
		return "", fmt.Errorf("%w: kernel size must be odd and at least 3", domain.ErrInvalidArgument)
	}
	if sigma < 0 {
		return "", fmt.Errorf("%w: sigma must not be negative", domain.ErrInvalidArgument)
	}
	row, img, err := u.loadImage(ctx, imageID)
	if err != nil {
		return "", err
	}
	outPath := filepath.Join(u.files.ResultsDir(row.DatasetID), fmt.Sprintf("blurred_%d.png", imageID))
	params := map[string]any{"kernel_size": kernelSize, "sigma": sigma}

	return u.startJob(ctx, imageID, model.MethodBlur, params, img,
		func(ctx context.Context, img image.Image, progress adapter.ProgressFunc) (map[string]any, []model.ResourceRef, error) {
			if err := u.processor.GaussianBlur(ctx, img, kernelSize, sigma, outPath, progress); err != nil {
				return nil, nil, err
			}
			data, err := model.PackData(model.BlurData{
				Status:     model.ResultStatusCompleted,
				KernelSize: kernelSize,
				Sigma:      sigma,
			})
			if err != nil {
				return nil, nil, err
			}
			resources := []model.ResourceRef{{Type: "image", Key: "blurred_image", Path: outPath}}
			return data, resources, nil
		})
}

func (u *analysisUC) Crop(ctx context.Context, imageID int64) (string, error) {
	defer logging.TraceDuration(u.log, "AnalysisUC.Crop")()
	_, img, err := u.loadImage(ctx, imageID)
	if err != nil {
		return "", err
	}
	return u.startJob(ctx, imageID, model.MethodCrop, nil, img,
		func(ctx context.Context, img image.Image, progress adapter.ProgressFunc) (map[string]any, []model.ResourceRef, error) {
			if progress != nil {
				progress(50, "Detecting content bounds...")
			}
			bounds, err := u.processor.AutoCrop(img)
			if err != nil {
				return nil, nil, err
			}
			data, err := model.PackData(model.CropData{
				Status: model.ResultStatusCompleted,
				Top:    bounds.Top,
				Bottom: bounds.Bottom,
				Left:   bounds.Left,
				Right:  bounds.Right,
			})
			if err != nil {
				return nil, nil, err
			}
			return data, nil, nil
		})
}
