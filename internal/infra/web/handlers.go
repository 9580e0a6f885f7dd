package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
)

// maxUploadBytes caps multipart uploads (images and archives).
const maxUploadBytes = 256 << 20

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad %s", domain.ErrInvalidArgument, name)
	}
	return id, nil
}

type datasetCreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type datasetResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func toDatasetResponse(ds *model.Dataset) datasetResponse {
	return datasetResponse{ID: ds.ID, Title: ds.Title, Description: ds.Description, CreatedAt: ds.CreatedAt}
}

type imageResponse struct {
	ID               int64     `json:"id"`
	DatasetID        int64     `json:"dataset_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

func toImageResponse(img *model.Image) imageResponse {
	return imageResponse{
		ID: img.ID, DatasetID: img.DatasetID,
		Filename: img.Filename, OriginalFilename: img.OriginalFilename,
		CreatedAt: img.CreatedAt,
	}
}

func (s *Server) handleDatasetCreate(w http.ResponseWriter, r *http.Request) {
	var req datasetCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ds, err := s.datasetUC.Create(r.Context(), req.Title, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDatasetResponse(ds))
}

func (s *Server) handleDatasetList(w http.ResponseWriter, r *http.Request) {
	list, err := s.datasetUC.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]datasetResponse, 0, len(list))
	for _, ds := range list {
		out = append(out, toDatasetResponse(ds))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDatasetGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ds, imgs, err := s.datasetUC.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	images := make([]imageResponse, 0, len(imgs))
	for _, img := range imgs {
		images = append(images, toImageResponse(img))
	}
	writeJSON(w, http.StatusOK, struct {
		datasetResponse
		Images []imageResponse `json:"images"`
	}{toDatasetResponse(ds), images})
}

func (s *Server) handleDatasetDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.datasetUC.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	datasetID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: multipart field 'file' required", domain.ErrInvalidArgument))
		return
	}
	defer file.Close()

	img, err := s.imageUC.Upload(r.Context(), datasetID, header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toImageResponse(img))
}

func (s *Server) handleImageGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	img, err := s.imageUC.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImageResponse(img))
}

func (s *Server) handleImageFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := s.imageUC.FilePath(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.imageUC.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResultLatest(w http.ResponseWriter, r *http.Request) {
	imageID, err := pathID(r, "imageID")
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.resultUC.Latest(r.Context(), imageID, chi.URLParam(r, "method"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
