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

var _ repository.DatasetRepository = (*datasetRepo)(nil)

type datasetRepo struct {
	pool *pgxpool.Pool
}

func NewDatasetRepo(pool *pgxpool.Pool) *datasetRepo {
	return &datasetRepo{pool: pool}
}

func (r *datasetRepo) Save(ctx context.Context, tx repository.Tx, ds *model.Dataset) error {
	if ds.ID == 0 {
		const q = `
INSERT INTO datasets (title, description, created_at)
VALUES ($1, $2, $3)
RETURNING id;`
		row, err := pickRow(ctx, r.pool, tx, q, ds.Title, ds.Description, ds.CreatedAt)
		if err != nil {
			return err
		}
		return row.Scan(&ds.ID)
	}
	const q = `
UPDATE datasets SET title=$2, description=$3 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, ds.ID, ds.Title, ds.Description)
	return err
}

func (r *datasetRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Dataset, error) {
	const q = `
SELECT id, title, description, created_at FROM datasets WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var ds model.Dataset
	if err := row.Scan(&ds.ID, &ds.Title, &ds.Description, &ds.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &ds, nil
}

func (r *datasetRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Dataset, error) {
	const q = `
SELECT id, title, description, created_at FROM datasets ORDER BY created_at DESC, id DESC;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Dataset
	for rows.Next() {
		var ds model.Dataset
		if err := rows.Scan(&ds.ID, &ds.Title, &ds.Description, &ds.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &ds)
	}
	return out, rows.Err()
}

func (r *datasetRepo) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	const q = `DELETE FROM datasets WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
