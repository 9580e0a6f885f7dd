package model

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"image-analysis-backend/internal/domain"
)

// Image is a stored image file belonging to a dataset. Filename is the
// server-side name (unique per dataset directory); OriginalFilename is what
// the client uploaded.
type Image struct {
	ID               int64
	DatasetID        int64
	Filename         string
	OriginalFilename string
	CreatedAt        time.Time
}

// NewImage constructs an image row with a uuid-based stored filename derived
// from the original extension.
func NewImage(datasetID int64, originalFilename string) (*Image, error) {
	if datasetID <= 0 || originalFilename == "" {
		return nil, domain.ErrInvalidArgument
	}
	ext := strings.ToLower(filepath.Ext(originalFilename))
	return &Image{
		DatasetID:        datasetID,
		Filename:         uuid.NewString() + ext,
		OriginalFilename: originalFilename,
		CreatedAt:        time.Now(),
	}, nil
}
