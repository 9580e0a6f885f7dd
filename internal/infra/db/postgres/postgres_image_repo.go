package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
)

var _ repository.ImageRepository = (*imageRepo)(nil)

type imageRepo struct {
	pool *pgxpool.Pool
}

func NewImageRepo(pool *pgxpool.Pool) *imageRepo {
	return &imageRepo{pool: pool}
}

func (r *imageRepo) Save(ctx context.Context, tx repository.Tx, img *model.Image) error {
	if img.ID == 0 {
		const q = `
INSERT INTO images (dataset_id, filename, original_filename, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id;`
		row, err := pickRow(ctx, r.pool, tx, q, img.DatasetID, img.Filename, img.OriginalFilename, img.CreatedAt)
		if err != nil {
			return err
		}
		return row.Scan(&img.ID)
	}
	const q = `
UPDATE images SET filename=$2, original_filename=$3 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, img.ID, img.Filename, img.OriginalFilename)
	return err
}

func (r *imageRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Image, error) {
	const q = `
SELECT id, dataset_id, filename, original_filename, created_at FROM images WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var img model.Image
	if err := row.Scan(&img.ID, &img.DatasetID, &img.Filename, &img.OriginalFilename, &img.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &img, nil
}

func (r *imageRepo) ListByDataset(ctx context.Context, tx repository.Tx, datasetID int64) ([]*model.Image, error) {
	const q = `
SELECT id, dataset_id, filename, original_filename, created_at
  FROM images WHERE dataset_id=$1 ORDER BY id;`
	rows, err := pickRows(ctx, r.pool, tx, q, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Image
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(&img.ID, &img.DatasetID, &img.Filename, &img.OriginalFilename, &img.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &img)
	}
	return out, rows.Err()
}

func (r *imageRepo) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	const q = `DELETE FROM images WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
