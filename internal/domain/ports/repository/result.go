package repository

import (
	"context"

	"image-analysis-backend/internal/domain/model"
)

// ResultRepository is the port for the result store adapter: the only
// component allowed to read or write result records. It enforces the
// pack/unpack envelope and the replace-previous invariant (at most one
// authoritative record per (image, method) pair).
type ResultRepository interface {
	// CreatePending inserts a record in "processing" state and commits before
	// returning. With replace set, every existing record for (imageID, method)
	// is deleted first, including its resource files.
	CreatePending(ctx context.Context, imageID int64, method string, parameters map[string]any, replace bool) (*model.ResultRecord, error)

	// UpdateData replaces the record's data and resources, preserving its
	// original parameters; the record status follows data["status"]. Returns
	// (nil, nil) when the record was deleted concurrently: this runs from a
	// background context with no caller to report to.
	UpdateData(ctx context.Context, id string, data map[string]any, resources []model.ResourceRef) (*model.ResultRecord, error)

	// MarkFailed is UpdateData with a failure payload.
	MarkFailed(ctx context.Context, id string, message string) error

	// GetLatest selects by image+method ordered by creation time descending,
	// tie-broken by id descending.
	GetLatest(ctx context.Context, imageID int64, method string) (*model.ResultRecord, error)

	// GetLatestUnpacked flattens the latest record's parameters and data into
	// one map (legacy flat records pass through unchanged).
	GetLatestUnpacked(ctx context.Context, imageID int64, method string) (map[string]any, error)

	ListByImage(ctx context.Context, tx Tx, imageID int64) ([]*model.ResultRecord, error)

	// DeleteForImage removes every record for the image along with the files
	// its resources point at.
	DeleteForImage(ctx context.Context, imageID int64) error
}
