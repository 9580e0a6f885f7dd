package usecase

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
	"image-analysis-backend/internal/infra/jobs"
	"image-analysis-backend/internal/infra/logging"
	"image-analysis-backend/internal/infra/storage"
	"image-analysis-backend/internal/infra/worker"
)

const (
	manifestName    = "manifest.json"
	manifestVersion = 1

	jobKindExport = "archive_export"
	jobKindImport = "archive_import"
)

// Compile-time check
var _ ArchiveUseCase = (*archiveUC)(nil)

// ArchiveUseCase packages a dataset with its images and result records into a
// portable zip, and rebuilds one from such a zip. Rows are materialised
// synchronously; file copying, manifest writing, and (un)zipping run as one
// worker-pool unit.
type ArchiveUseCase interface {
	Export(ctx context.Context, datasetID int64) (string, error)
	// Import rebuilds a dataset from the archive at path. The file is
	// consumed: it is removed when the job finishes either way.
	Import(ctx context.Context, archivePath string) (string, error)
	// ExportFilePath resolves a produced archive for download.
	ExportFilePath(filename string) (string, error)
}

type archiveUC struct {
	datasets repository.DatasetRepository
	images   repository.ImageRepository
	results  repository.ResultRepository
	registry *jobs.Registry
	pool     *worker.Pool
	files    *storage.Files

	log *zerolog.Logger
}

func NewArchiveUseCase(
	datasets repository.DatasetRepository,
	images repository.ImageRepository,
	results repository.ResultRepository,
	registry *jobs.Registry,
	pool *worker.Pool,
	files *storage.Files,
	logger *zerolog.Logger,
) *archiveUC {
	return &archiveUC{
		datasets: datasets, images: images, results: results,
		registry: registry, pool: pool, files: files,
		log: logger,
	}
}

type archiveManifest struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Dataset    manifestDataset `json:"dataset"`
	Images     []manifestImage `json:"images"`
}

type manifestDataset struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type manifestImage struct {
	// Filename is the archive-relative path under images/.
	Filename         string           `json:"filename"`
	OriginalFilename string           `json:"original_filename"`
	Results          []manifestResult `json:"results"`
}

type manifestResult struct {
	Method     string             `json:"method"`
	Parameters map[string]any     `json:"parameters"`
	Data       map[string]any     `json:"data"`
	Resources  []manifestResource `json:"resources"`
}

type manifestResource struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	// Path is archive-relative under resources/.
	Path string `json:"path"`
}

// exportItem pairs an image row with its stored file and result records, all
// read before the job is submitted.
type exportItem struct {
	image    *model.Image
	filePath string
	records  []*model.ResultRecord
}

func (u *archiveUC) Export(ctx context.Context, datasetID int64) (string, error) {
	defer logging.TraceDuration(u.log, "ArchiveUC.Export")()
	ds, err := u.datasets.FindByID(ctx, repository.NoTX, datasetID)
	if err != nil {
		return "", err
	}
	imgs, err := u.images.ListByDataset(ctx, repository.NoTX, datasetID)
	if err != nil {
		return "", err
	}
	items := make([]exportItem, 0, len(imgs))
	for _, img := range imgs {
		records, err := u.results.ListByImage(ctx, repository.NoTX, img.ID)
		if err != nil {
			return "", err
		}
		items = append(items, exportItem{
			image:    img,
			filePath: u.files.ImagePath(datasetID, img.Filename),
			records:  records,
		})
	}

	job, err := u.registry.Create(jobKindExport)
	if err != nil {
		return "", err
	}
	jobID := job.ID
	archiveName := fmt.Sprintf("dataset_%d_%d.zip", datasetID, time.Now().Unix())

	handle := u.pool.Submit(func(workerCtx context.Context) (any, error) {
		u.registry.MarkProcessing(jobID, "Packaging dataset archive")
		data, err := u.packageArchive(workerCtx, jobID, ds, items, archiveName)
		if err != nil {
			u.registry.Fail(jobID, err.Error())
			return nil, err
		}
		u.registry.Complete(jobID, data)
		return data, nil
	})
	u.registry.AttachHandle(jobID, handle)
	u.log.Info().Str("job_id", jobID).Int64("dataset_id", datasetID).Msg("export job queued")
	return jobID, nil
}

// packageArchive assembles the staging directory and zips it. The staging
// directory is removed on every exit path, and a panic surfaces as an error
// so the submitted closure fails the job instead of stranding it.
func (u *archiveUC) packageArchive(ctx context.Context, jobID string, ds *model.Dataset, items []exportItem, archiveName string) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("archive packaging panicked: %v", r)
		}
	}()
	tmpDir, err := os.MkdirTemp("", "export-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	defer os.RemoveAll(tmpDir)

	manifest := archiveManifest{
		Version:    manifestVersion,
		ExportedAt: time.Now().UTC(),
		Dataset:    manifestDataset{Title: ds.Title, Description: ds.Description},
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u.registry.UpdateProgress(jobID, 10+60*i/max(len(items), 1),
			fmt.Sprintf("Packaging image %d of %d", i+1, len(items)))

		rel := filepath.Join("images", item.image.Filename)
		if err := copyFile(filepath.Join(tmpDir, rel), item.filePath); err != nil {
			return nil, err
		}
		mi := manifestImage{Filename: item.image.Filename, OriginalFilename: item.image.OriginalFilename}
		for _, rec := range item.records {
			mr := manifestResult{
				Method:     rec.Method,
				Parameters: rec.Payload.Parameters,
				Data:       rec.Payload.Data,
			}
			if rec.Payload.Legacy() {
				// Legacy flat payloads travel in data with no parameters to
				// split out.
				mr.Data = rec.Payload.Unpacked()
			}
			for _, res := range rec.Payload.Resources {
				resRel := filepath.Join("resources", rec.ID+"_"+filepath.Base(res.Path))
				if err := copyFile(filepath.Join(tmpDir, resRel), res.Path); err != nil {
					// A missing derived file degrades the archive, it does
					// not abort it.
					u.log.Warn().Str("path", res.Path).Msg("resource file missing, skipped")
					continue
				}
				mr.Resources = append(mr.Resources, manifestResource{Type: res.Type, Key: res.Key, Path: resRel})
			}
			mi.Results = append(mi.Results, mr)
		}
		manifest.Images = append(manifest.Images, mi)
	}

	u.registry.UpdateProgress(jobID, 80, "Writing manifest")
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, manifestName), raw, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}

	u.registry.UpdateProgress(jobID, 90, "Compressing archive")
	archivePath := u.files.ExportPath(archiveName)
	if err := zipDir(archivePath, tmpDir); err != nil {
		u.files.RemoveFileSafe(archivePath)
		return nil, err
	}
	return map[string]any{
		"status":  model.ResultStatusCompleted,
		"archive": archiveName,
		"images":  len(items),
	}, nil
}

func (u *archiveUC) Import(ctx context.Context, archivePath string) (string, error) {
	defer logging.TraceDuration(u.log, "ArchiveUC.Import")()
	if _, err := os.Stat(archivePath); err != nil {
		return "", fmt.Errorf("%w: archive %s", domain.ErrNotFound, archivePath)
	}
	job, err := u.registry.Create(jobKindImport)
	if err != nil {
		return "", err
	}
	jobID := job.ID

	handle := u.pool.Submit(func(workerCtx context.Context) (any, error) {
		defer os.Remove(archivePath)
		u.registry.MarkProcessing(jobID, "Unpacking dataset archive")
		data, err := u.restoreArchive(workerCtx, jobID, archivePath)
		if err != nil {
			u.registry.Fail(jobID, err.Error())
			return nil, err
		}
		u.registry.Complete(jobID, data)
		return data, nil
	})
	u.registry.AttachHandle(jobID, handle)

	// A handle aborted while still queued never runs the closure, so the
	// uploaded archive must be consumed here.
	go func() {
		if _, err := handle.Await(context.Background()); err != nil && !handle.Started() {
			os.Remove(archivePath)
		}
	}()

	u.log.Info().Str("job_id", jobID).Str("archive", archivePath).Msg("import job queued")
	return jobID, nil
}

func (u *archiveUC) restoreArchive(ctx context.Context, jobID, archivePath string) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("archive restore panicked: %v", r)
		}
	}()
	tmpDir, err := os.MkdirTemp("", "import-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	defer os.RemoveAll(tmpDir)

	if err := unzipTo(tmpDir, archivePath); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(tmpDir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("%w: archive has no manifest", domain.ErrInvalidArgument)
	}
	var manifest archiveManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: malformed manifest: %v", domain.ErrInvalidArgument, err)
	}

	ds, err := model.NewDataset(manifest.Dataset.Title, manifest.Dataset.Description)
	if err != nil {
		return nil, err
	}
	if err := u.datasets.Save(ctx, repository.NoTX, ds); err != nil {
		return nil, err
	}

	for i, mi := range manifest.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u.registry.UpdateProgress(jobID, 20+70*i/max(len(manifest.Images), 1),
			fmt.Sprintf("Restoring image %d of %d", i+1, len(manifest.Images)))

		img, err := model.NewImage(ds.ID, mi.OriginalFilename)
		if err != nil {
			return nil, err
		}
		src := filepath.Join(tmpDir, "images", mi.Filename)
		if err := copyFile(u.files.ImagePath(ds.ID, img.Filename), src); err != nil {
			return nil, err
		}
		if err := u.images.Save(ctx, repository.NoTX, img); err != nil {
			return nil, err
		}

		for _, mr := range mi.Results {
			rec, err := u.results.CreatePending(ctx, img.ID, mr.Method, mr.Parameters, false)
			if err != nil {
				return nil, err
			}
			var resources []model.ResourceRef
			for _, res := range mr.Resources {
				dst := filepath.Join(u.files.ResultsDir(ds.ID), rec.ID+"_"+filepath.Base(res.Path))
				if err := copyFile(dst, filepath.Join(tmpDir, res.Path)); err != nil {
					u.log.Warn().Str("path", res.Path).Msg("archived resource missing, skipped")
					continue
				}
				resources = append(resources, model.ResourceRef{Type: res.Type, Key: res.Key, Path: dst})
			}
			if _, err := u.results.UpdateData(ctx, rec.ID, mr.Data, resources); err != nil {
				return nil, err
			}
		}
	}
	return map[string]any{
		"status":     model.ResultStatusCompleted,
		"dataset_id": ds.ID,
		"images":     len(manifest.Images),
	}, nil
}

func (u *archiveUC) ExportFilePath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("%w: bad archive name", domain.ErrInvalidArgument)
	}
	path := u.files.ExportPath(filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: archive %s", domain.ErrNotFound, filename)
	}
	return path, nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	return out.Close()
}

// zipDir writes every file under root into a new archive, paths relative to
// root with forward slashes.
func zipDir(archivePath, root string) error {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, in)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	return f.Close()
}

// unzipTo extracts the archive, rejecting entries that escape dst.
func unzipTo(dst, archivePath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: unreadable archive: %v", domain.ErrInvalidArgument, err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		target := filepath.Join(dst, filepath.FromSlash(entry.Name))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fmt.Errorf("%w: archive entry escapes extraction dir: %s", domain.ErrInvalidArgument, entry.Name)
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
		}
		in, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		out, err := os.Create(target)
		if err != nil {
			in.Close()
			return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
		}
		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			out.Close()
			return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
		}
		in.Close()
		if err := out.Close(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
		}
	}
	return nil
}
