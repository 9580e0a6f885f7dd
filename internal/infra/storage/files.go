package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Files owns the on-disk layout: uploaded images under
// {uploads}/images/{dataset}/, generated result artifacts under
// {uploads}/results/{dataset}/, and produced archives under {exports}/.
type Files struct {
	uploadsDir string
	exportsDir string
	log        *zerolog.Logger
}

func NewFiles(uploadsDir, exportsDir string, logger *zerolog.Logger) *Files {
	fLog := logger.With().Str("component", "Files").Logger()
	return &Files{uploadsDir: uploadsDir, exportsDir: exportsDir, log: &fLog}
}

func (f *Files) ImagesDir(datasetID int64) string {
	return filepath.Join(f.uploadsDir, "images", fmt.Sprintf("%d", datasetID))
}

func (f *Files) ImagePath(datasetID int64, filename string) string {
	return filepath.Join(f.ImagesDir(datasetID), filename)
}

func (f *Files) ResultsDir(datasetID int64) string {
	return filepath.Join(f.uploadsDir, "results", fmt.Sprintf("%d", datasetID))
}

func (f *Files) ExportsDir() string { return f.exportsDir }

func (f *Files) ExportPath(filename string) string {
	return filepath.Join(f.exportsDir, filename)
}

// SaveStream writes r to path, creating parent directories.
func (f *Files) SaveStream(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// RemoveFileSafe deletes the file if it exists; failures are logged, never
// raised, since removal runs from cleanup paths with no caller to report to.
func (f *Files) RemoveFileSafe(path string) bool {
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		f.log.Error().Err(err).Str("path", path).Msg("failed to remove file")
		return false
	}
	f.log.Debug().Str("path", path).Msg("file removed")
	return true
}

// RemoveDirSafe deletes a directory tree, logging failures.
func (f *Files) RemoveDirSafe(path string) bool {
	if path == "" {
		return false
	}
	if err := os.RemoveAll(path); err != nil {
		f.log.Error().Err(err).Str("path", path).Msg("failed to remove directory")
		return false
	}
	return true
}
