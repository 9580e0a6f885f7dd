//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
)

// recordingRemover records which resource paths were deleted.
type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) RemoveFileSafe(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return true
}

func setupImage(t *testing.T) int64 {
	t.Helper()
	cleanup(t)
	ctx := context.Background()

	dsRepo := NewDatasetRepo(testPool)
	ds, _ := model.NewDataset("test set", "")
	if err := dsRepo.Save(ctx, nil, ds); err != nil {
		t.Fatalf("failed to save dataset: %v", err)
	}
	imgRepo := NewImageRepo(testPool)
	img, _ := model.NewImage(ds.ID, "cat.png")
	if err := imgRepo.Save(ctx, nil, img); err != nil {
		t.Fatalf("failed to save image: %v", err)
	}
	return img.ID
}

func newResultRepo(remover *recordingRemover) *resultRepo {
	logger := zerolog.Nop()
	return NewResultRepo(testPool, NewTxManager(testPool), remover, &logger)
}

func TestResultRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()

	t.Run("pending record then update then unpacked read", func(t *testing.T) {
		imageID := setupImage(t)
		repo := newResultRepo(&recordingRemover{})

		rec, err := repo.CreatePending(ctx, imageID, "cluster", map[string]any{"k": 3}, true)
		if err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
		if rec.Payload.Status() != model.ResultStatusProcessing {
			t.Errorf("expected processing, got %q", rec.Payload.Status())
		}

		// A poller must see the pending record immediately.
		got, err := repo.GetLatest(ctx, imageID, "cluster")
		if err != nil {
			t.Fatalf("GetLatest: %v", err)
		}
		if got.ID != rec.ID {
			t.Errorf("expected pending record, got %s", got.ID)
		}

		updated, err := repo.UpdateData(ctx, rec.ID,
			map[string]any{"status": "completed", "centers": []any{1, 2, 3}}, nil)
		if err != nil {
			t.Fatalf("UpdateData: %v", err)
		}
		if updated == nil {
			t.Fatal("expected a record back")
		}

		unpacked, err := repo.GetLatestUnpacked(ctx, imageID, "cluster")
		if err != nil {
			t.Fatalf("GetLatestUnpacked: %v", err)
		}
		if unpacked["k"] != float64(3) {
			t.Errorf("parameters must be preserved across UpdateData, got %v", unpacked)
		}
		if unpacked["status"] != "completed" {
			t.Errorf("expected completed, got %v", unpacked["status"])
		}
	})

	t.Run("replace-previous keeps exactly one record and deletes its files", func(t *testing.T) {
		imageID := setupImage(t)
		remover := &recordingRemover{}
		repo := newResultRepo(remover)

		first, err := repo.CreatePending(ctx, imageID, "cluster", map[string]any{"k": 2}, true)
		if err != nil {
			t.Fatalf("first CreatePending: %v", err)
		}
		if _, err := repo.UpdateData(ctx, first.ID,
			map[string]any{"status": "completed"},
			[]model.ResourceRef{{Type: "image", Key: "clustered_image", Path: "uploads/results/1/old.png"}}); err != nil {
			t.Fatalf("UpdateData: %v", err)
		}

		second, err := repo.CreatePending(ctx, imageID, "cluster", map[string]any{"k": 5}, true)
		if err != nil {
			t.Fatalf("second CreatePending: %v", err)
		}
		if second.ID == first.ID {
			t.Error("replacement must mint a new id")
		}

		var count int
		if err := testPool.QueryRow(ctx,
			`SELECT COUNT(*) FROM results WHERE image_id=$1 AND name_method=$2`,
			imageID, "cluster").Scan(&count); err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 1 {
			t.Errorf("expected exactly one record per (subject, method), got %d", count)
		}

		remover.mu.Lock()
		defer remover.mu.Unlock()
		if len(remover.removed) != 1 || remover.removed[0] != "uploads/results/1/old.png" {
			t.Errorf("expected replaced record's resource removed, got %v", remover.removed)
		}
	})

	t.Run("records for distinct methods coexist", func(t *testing.T) {
		imageID := setupImage(t)
		repo := newResultRepo(&recordingRemover{})

		if _, err := repo.CreatePending(ctx, imageID, "cluster", nil, true); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.CreatePending(ctx, imageID, "gaussian_blur", nil, true); err != nil {
			t.Fatal(err)
		}
		list, err := repo.ListByImage(ctx, nil, imageID)
		if err != nil {
			t.Fatalf("ListByImage: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("expected 2 records, got %d", len(list))
		}
	})

	t.Run("GetLatest tie-breaks by id when timestamps collide", func(t *testing.T) {
		imageID := setupImage(t)
		repo := newResultRepo(&recordingRemover{})

		a, err := repo.CreatePending(ctx, imageID, "crop", nil, false)
		if err != nil {
			t.Fatal(err)
		}
		b, err := repo.CreatePending(ctx, imageID, "crop", nil, false)
		if err != nil {
			t.Fatal(err)
		}
		// Force equal timestamps; ULIDs are monotonic in creation order.
		if _, err := testPool.Exec(ctx,
			`UPDATE results SET created_at=(SELECT created_at FROM results WHERE id=$1) WHERE id=$2`,
			a.ID, b.ID); err != nil {
			t.Fatal(err)
		}

		got, err := repo.GetLatest(ctx, imageID, "crop")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != b.ID {
			t.Errorf("expected newest record %s, got %s", b.ID, got.ID)
		}
	})

	t.Run("UpdateData on a vanished record returns absent without error", func(t *testing.T) {
		setupImage(t)
		repo := newResultRepo(&recordingRemover{})

		rec, err := repo.UpdateData(ctx, "01J00000000000000000000000", map[string]any{"status": "completed"}, nil)
		if err != nil {
			t.Fatalf("expected no error for a concurrently deleted record, got %v", err)
		}
		if rec != nil {
			t.Errorf("expected absent record, got %+v", rec)
		}
	})

	t.Run("MarkFailed records the failure payload", func(t *testing.T) {
		imageID := setupImage(t)
		repo := newResultRepo(&recordingRemover{})

		rec, err := repo.CreatePending(ctx, imageID, "cluster", map[string]any{"k": 3}, true)
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.MarkFailed(ctx, rec.ID, "image decode failed"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
		unpacked, err := repo.GetLatestUnpacked(ctx, imageID, "cluster")
		if err != nil {
			t.Fatal(err)
		}
		if unpacked["status"] != "failed" || unpacked["error"] != "image decode failed" {
			t.Errorf("unexpected failure payload: %v", unpacked)
		}
		if unpacked["k"] != float64(3) {
			t.Errorf("parameters lost on failure: %v", unpacked)
		}
	})

	t.Run("legacy flat payloads unpack as-is", func(t *testing.T) {
		imageID := setupImage(t)
		repo := newResultRepo(&recordingRemover{})

		if _, err := testPool.Exec(ctx, `
INSERT INTO results (id, image_id, name_method, payload, created_at)
VALUES ('00LEGACY00000000000000000A', $1, 'calculate_mean_lines', '{"means": [[12.5]], "grid_size": "1x1"}', now())`,
			imageID); err != nil {
			t.Fatal(err)
		}

		unpacked, err := repo.GetLatestUnpacked(ctx, imageID, "calculate_mean_lines")
		if err != nil {
			t.Fatal(err)
		}
		if unpacked["grid_size"] != "1x1" {
			t.Errorf("legacy payload mangled: %v", unpacked)
		}
	})

	t.Run("DeleteForImage removes rows and resource files", func(t *testing.T) {
		imageID := setupImage(t)
		remover := &recordingRemover{}
		repo := newResultRepo(remover)

		rec, err := repo.CreatePending(ctx, imageID, "gaussian_blur", nil, true)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := repo.UpdateData(ctx, rec.ID,
			map[string]any{"status": "completed"},
			[]model.ResourceRef{{Type: "image", Key: "blurred_image", Path: "uploads/results/1/blur.png"}}); err != nil {
			t.Fatal(err)
		}

		if err := repo.DeleteForImage(ctx, imageID); err != nil {
			t.Fatalf("DeleteForImage: %v", err)
		}
		if _, err := repo.GetLatest(ctx, imageID, "gaussian_blur"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		remover.mu.Lock()
		defer remover.mu.Unlock()
		if len(remover.removed) != 1 || remover.removed[0] != "uploads/results/1/blur.png" {
			t.Errorf("expected resource file removal, got %v", remover.removed)
		}
	})
}
