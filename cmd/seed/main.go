// Seeds a sample dataset with a few generated images so the analysis
// endpoints can be exercised on a fresh install.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"time"

	"image-analysis-backend/internal/config"
	pg "image-analysis-backend/internal/infra/db/postgres"
	"image-analysis-backend/internal/infra/logging"
	"image-analysis-backend/internal/infra/storage"
	"image-analysis-backend/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	files := storage.NewFiles(cfg.Storage.UploadsDir, cfg.Storage.ExportsDir, logger)
	txm := pg.NewTxManager(pool)
	datasetRepo := pg.NewDatasetRepo(pool)
	imageRepo := pg.NewImageRepo(pool)
	resultRepo := pg.NewResultRepo(pool, txm, files, logger)

	datasetUC := usecase.NewDatasetUseCase(datasetRepo, imageRepo, resultRepo, files, logger)
	imageUC := usecase.NewImageUseCase(datasetRepo, imageRepo, resultRepo, files, logger)

	// If any dataset exists, do nothing.
	existing, err := datasetUC.List(ctx)
	if err != nil {
		log.Fatalf("list datasets: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d datasets already present. No changes.\n", len(existing))
		return
	}

	ds, err := datasetUC.Create(ctx, "Sample dataset", "Generated images for trying out the analysis endpoints")
	if err != nil {
		log.Fatalf("create dataset: %v", err)
	}

	samples := []struct {
		name string
		img  image.Image
	}{
		{"gradient.png", gradient(320, 240)},
		{"checker.png", checker(320, 240, 40)},
		{"framed.png", framed(320, 240, 60)},
	}
	for _, s := range samples {
		var buf bytes.Buffer
		if err := png.Encode(&buf, s.img); err != nil {
			log.Fatalf("encode %s: %v", s.name, err)
		}
		img, err := imageUC.Upload(ctx, ds.ID, s.name, &buf)
		if err != nil {
			log.Fatalf("upload %s: %v", s.name, err)
		}
		fmt.Printf("seeded: %s (image_id=%d, stored=%s)\n", s.name, img.ID, img.Filename)
	}

	fmt.Printf("Seeding complete: dataset_id=%d\n", ds.ID)
}

// gradient ramps brightness left to right; useful for brightness grids.
func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 * x / (w - 1))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// checker alternates dark and light cells; clusters cleanly with k=2.
func checker(w, h, cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.RGBA{30, 30, 30, 255})
			} else {
				img.Set(x, y, color.RGBA{220, 220, 220, 255})
			}
		}
	}
	return img
}

// framed is a dark square on a white canvas; exercises auto-crop.
func framed(w, h, margin int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= margin && x < w-margin && y >= margin && y < h-margin {
				img.Set(x, y, color.RGBA{60, 90, 140, 255})
			} else {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	return img
}
