package model

import (
	"time"

	"image-analysis-backend/internal/domain"
)

// Dataset groups uploaded images for analysis and export.
type Dataset struct {
	ID          int64
	Title       string
	Description string
	CreatedAt   time.Time
}

// NewDataset validates and constructs a dataset (id is assigned by the store).
func NewDataset(title, description string) (*Dataset, error) {
	if title == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Dataset{
		Title:       title,
		Description: description,
		CreatedAt:   time.Now(),
	}, nil
}
