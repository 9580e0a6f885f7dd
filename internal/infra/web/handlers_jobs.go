package web

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
)

type jobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type jobResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	HasResult bool      `json:"has_result"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toJobResponse(job *model.Job) jobResponse {
	return jobResponse{
		ID: job.ID, Kind: job.Kind, Status: string(job.Status),
		Progress: job.Progress, Message: job.Message,
		HasResult: job.Result != nil, Error: job.Error,
		CreatedAt: job.CreatedAt,
	}
}

func acceptJob(w http.ResponseWriter, jobID string) {
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID, Status: string(model.JobStatusQueued)})
}

type clusterRequest struct {
	K int `json:"k"`
}

func (s *Server) handleAnalysisCluster(w http.ResponseWriter, r *http.Request) {
	imageID, err := pathID(r, "imageID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req clusterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	jobID, err := s.analysisUC.Cluster(r.Context(), imageID, req.K)
	if err != nil {
		writeError(w, err)
		return
	}
	acceptJob(w, jobID)
}

type brightnessRequest struct {
	VerticalLines   []int `json:"vertical_lines"`
	HorizontalLines []int `json:"horizontal_lines"`
}

func (s *Server) handleAnalysisBrightness(w http.ResponseWriter, r *http.Request) {
	imageID, err := pathID(r, "imageID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req brightnessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.analysisUC.Brightness(r.Context(), imageID, req.VerticalLines, req.HorizontalLines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type blurRequest struct {
	KernelSize int     `json:"kernel_size"`
	Sigma      float64 `json:"sigma"`
}

func (s *Server) handleAnalysisBlur(w http.ResponseWriter, r *http.Request) {
	imageID, err := pathID(r, "imageID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req blurRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	jobID, err := s.analysisUC.Blur(r.Context(), imageID, req.KernelSize, req.Sigma)
	if err != nil {
		writeError(w, err)
		return
	}
	acceptJob(w, jobID)
}

func (s *Server) handleAnalysisCrop(w http.ResponseWriter, r *http.Request) {
	imageID, err := pathID(r, "imageID")
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := s.analysisUC.Crop(r.Context(), imageID)
	if err != nil {
		writeError(w, err)
		return
	}
	acceptJob(w, jobID)
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("start"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	list, total, err := s.jobUC.List(q.Get("status"), start, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, job := range list {
		out = append(out, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, struct {
		Jobs  []jobResponse `json:"jobs"`
		Total int           `json:"total"`
	}{out, total})
}

func (s *Server) handleJobStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobUC.Stats())
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobUC.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.jobUC.Result(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": artifact})
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.jobUC.Cancel(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.JobStatusCancelled)})
}

func (s *Server) handleJobDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.jobUC.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobClear(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	removed := s.jobUC.Clear(force)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleArchiveExport(w http.ResponseWriter, r *http.Request) {
	datasetID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := s.archiveUC.Export(r.Context(), datasetID)
	if err != nil {
		writeError(w, err)
		return
	}
	acceptJob(w, jobID)
}

func (s *Server) handleArchiveImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: multipart field 'file' required", domain.ErrInvalidArgument))
		return
	}
	defer file.Close()

	// Spool the archive to disk; the import job consumes and removes it.
	tmp, err := os.CreateTemp("", "import-upload-*.zip")
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err))
		return
	}
	if _, err := tmp.ReadFrom(file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err))
		return
	}
	tmp.Close()

	jobID, err := s.archiveUC.Import(r.Context(), tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		writeError(w, err)
		return
	}
	acceptJob(w, jobID)
}

func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	path, err := s.archiveUC.ExportFilePath(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(path))
	http.ServeFile(w, r, path)
}
