package adapter

import (
	"context"
	"image"
)

// ProgressFunc reports staged progress from inside a long computation.
// Implementations must tolerate a nil func.
type ProgressFunc func(pct int, message string)

// ClusterOutcome is the result of k-means colour clustering, including the
// rendered cluster image written by the processor.
type ClusterOutcome struct {
	Centers       [][]float64
	ClustersFound int
	RenderedPath  string
}

// CropBounds is a tight bounding box around image content.
type CropBounds struct {
	Top    int
	Bottom int
	Left   int
	Right  int
}

// ImageLoader decodes a stored image file into pixels.
type ImageLoader interface {
	Load(path string) (image.Image, error)
}

// ImageProcessor is the port over the numeric image algorithms. The
// algorithms are deterministic, CPU-bound, and opaque to the orchestration
// core; every method is safe to run on a worker goroutine.
type ImageProcessor interface {
	// KMeans clusters the image colours into k groups and renders the
	// clustered image into outPath.
	KMeans(ctx context.Context, img image.Image, k int, outPath string, progress ProgressFunc) (ClusterOutcome, error)

	// MeanGrid averages brightness over the regions delimited by sorted
	// vertical and horizontal line coordinates.
	MeanGrid(img image.Image, verticalLines, horizontalLines []int) ([][]float64, error)

	// GaussianBlur writes a blurred copy of the image into outPath.
	GaussianBlur(ctx context.Context, img image.Image, kernelSize int, sigma float64, outPath string, progress ProgressFunc) error

	// AutoCrop detects the content bounding box, treating near-white rows and
	// columns as background.
	AutoCrop(img image.Image) (CropBounds, error)
}
