package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/domain/ports/repository"
)

var _ repository.ResultRepository = (*resultRepo)(nil)

// fileRemover is the slice of the storage layer the repo needs to honour the
// resource-deletion invariant.
type fileRemover interface {
	RemoveFileSafe(path string) bool
}

// resultRepo is the result store adapter: the only component that reads or
// writes the results table. Record ids are ULIDs, so the id-descending
// tie-break of GetLatest follows creation order even when created_at
// timestamps collide.
type resultRepo struct {
	pool  *pgxpool.Pool
	tm    repository.TransactionManager
	files fileRemover
	log   *zerolog.Logger
}

func NewResultRepo(pool *pgxpool.Pool, tm repository.TransactionManager, files fileRemover, logger *zerolog.Logger) *resultRepo {
	repoLog := logger.With().Str("component", "ResultRepo").Logger()
	return &resultRepo{pool: pool, tm: tm, files: files, log: &repoLog}
}

func (r *resultRepo) CreatePending(ctx context.Context, imageID int64, method string, parameters map[string]any, replace bool) (*model.ResultRecord, error) {
	if imageID <= 0 || method == "" {
		return nil, domain.ErrInvalidArgument
	}

	rec := &model.ResultRecord{
		ID:        ulid.Make().String(),
		ImageID:   imageID,
		Method:    method,
		Payload:   model.PendingEnvelope(parameters),
		CreatedAt: time.Now(),
	}
	raw, err := rec.Payload.Encode()
	if err != nil {
		return nil, err
	}

	// Resource paths of replaced records; their files are removed only after
	// the transaction commits so a failed insert never orphans rows.
	var stale []string

	err = r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if replace {
			paths, err := r.collectResourcePaths(ctx, tx, `SELECT payload FROM results WHERE image_id=$1 AND name_method=$2`, imageID, method)
			if err != nil {
				return err
			}
			stale = paths
			if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM results WHERE image_id=$1 AND name_method=$2`, imageID, method); err != nil {
				return err
			}
		}
		const q = `
INSERT INTO results (id, image_id, name_method, payload, created_at)
VALUES ($1, $2, $3, $4, $5);`
		_, err := execSQL(ctx, r.pool, tx, q, rec.ID, rec.ImageID, rec.Method, raw, rec.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, p := range stale {
		r.files.RemoveFileSafe(p)
	}
	return rec, nil
}

func (r *resultRepo) UpdateData(ctx context.Context, id string, data map[string]any, resources []model.ResourceRef) (*model.ResultRecord, error) {
	var rec *model.ResultRecord

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const sel = `
SELECT image_id, name_method, payload, created_at FROM results WHERE id=$1 FOR UPDATE;`
		row, err := pickRow(ctx, r.pool, tx, sel, id)
		if err != nil {
			return err
		}
		var (
			imageID   int64
			method    string
			raw       []byte
			createdAt time.Time
		)
		if err := row.Scan(&imageID, &method, &raw, &createdAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Deleted concurrently; nothing to update and no caller to
				// report to.
				return nil
			}
			return err
		}
		old, err := model.DecodeEnvelope(raw)
		if err != nil {
			return err
		}

		// The original parameters are immutable; only data and resources move.
		env := model.NewEnvelope(old.Parameters, data, resources)
		encoded, err := env.Encode()
		if err != nil {
			return err
		}
		if _, err := execSQL(ctx, r.pool, tx, `UPDATE results SET payload=$2 WHERE id=$1`, id, encoded); err != nil {
			return err
		}
		rec = &model.ResultRecord{ID: id, ImageID: imageID, Method: method, Payload: env, CreatedAt: createdAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		r.log.Warn().Str("record_id", id).Msg("result record vanished before update")
	}
	return rec, nil
}

func (r *resultRepo) MarkFailed(ctx context.Context, id string, message string) error {
	_, err := r.UpdateData(ctx, id, model.FailedData(message), nil)
	return err
}

func (r *resultRepo) GetLatest(ctx context.Context, imageID int64, method string) (*model.ResultRecord, error) {
	// created_at has sub-second resolution; the ULID id breaks ties
	// deterministically.
	const q = `
SELECT id, image_id, name_method, payload, created_at
  FROM results
 WHERE image_id=$1 AND name_method=$2
 ORDER BY created_at DESC, id DESC
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, nil, q, imageID, method)
	if err != nil {
		return nil, err
	}
	return scanResult(row)
}

func (r *resultRepo) GetLatestUnpacked(ctx context.Context, imageID int64, method string) (map[string]any, error) {
	rec, err := r.GetLatest(ctx, imageID, method)
	if err != nil {
		return nil, err
	}
	return rec.Payload.Unpacked(), nil
}

func (r *resultRepo) ListByImage(ctx context.Context, tx repository.Tx, imageID int64) ([]*model.ResultRecord, error) {
	const q = `
SELECT id, image_id, name_method, payload, created_at
  FROM results WHERE image_id=$1 ORDER BY created_at DESC, id DESC;`
	rows, err := pickRows(ctx, r.pool, tx, q, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *resultRepo) DeleteForImage(ctx context.Context, imageID int64) error {
	var stale []string
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		paths, err := r.collectResourcePaths(ctx, tx, `SELECT payload FROM results WHERE image_id=$1`, imageID)
		if err != nil {
			return err
		}
		stale = paths
		_, err = execSQL(ctx, r.pool, tx, `DELETE FROM results WHERE image_id=$1`, imageID)
		return err
	})
	if err != nil {
		return err
	}
	for _, p := range stale {
		r.files.RemoveFileSafe(p)
	}
	return nil
}

// collectResourcePaths gathers every resource path referenced by the rows a
// query selects, so deletion can honour the record/artifact lifecycle bond.
func (r *resultRepo) collectResourcePaths(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]string, error) {
	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		env, err := model.DecodeEnvelope(raw)
		if err != nil {
			r.log.Warn().Err(err).Msg("skipping undecodable payload during resource collection")
			continue
		}
		for _, res := range env.Resources {
			paths = append(paths, res.Path)
		}
	}
	return paths, rows.Err()
}

func scanResult(row pgx.Row) (*model.ResultRecord, error) {
	var (
		rec model.ResultRecord
		raw []byte
	)
	if err := row.Scan(&rec.ID, &rec.ImageID, &rec.Method, &raw, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	env, err := model.DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	rec.Payload = env
	return &rec, nil
}
