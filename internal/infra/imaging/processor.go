package imaging

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/ports/adapter"
)

// palette colours clusters in the rendered image, darkest cluster first.
var palette = []color.RGBA{
	{31, 119, 180, 255},
	{255, 127, 14, 255},
	{44, 160, 44, 255},
	{214, 39, 40, 255},
	{148, 103, 189, 255},
	{140, 86, 75, 255},
	{227, 119, 194, 255},
	{127, 127, 127, 255},
	{188, 189, 34, 255},
	{23, 190, 207, 255},
}

const (
	kmeansMaxIterations = 100
	kmeansEpsilon       = 0.1

	// Rows and columns are background when over 90% of their pixels are
	// near white.
	cropWhiteLevel = 250
	cropWhiteRatio = 0.9
	cropInset      = 2
)

var _ adapter.ImageProcessor = (*Processor)(nil)

// Processor runs the numeric image algorithms on the luminance channel,
// matching how the analysis methods define brightness.
type Processor struct {
	log *zerolog.Logger
}

func NewProcessor(logger *zerolog.Logger) *Processor {
	return &Processor{log: logger}
}

func report(progress adapter.ProgressFunc, pct int, message string) {
	if progress != nil {
		progress(pct, message)
	}
}

// lumaPlane flattens the image into row-major 8-bit luminance values.
func lumaPlane(img image.Image) (lum []uint8, w, h int) {
	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	lum = make([]uint8, w*h)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			lum[i] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			i++
		}
	}
	return lum, w, h
}

func writePNG(path string, m image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	defer f.Close()
	if err := png.Encode(f, m); err != nil {
		return fmt.Errorf("%w: encode %s: %v", domain.ErrCalculation, path, err)
	}
	return nil
}

func (p *Processor) KMeans(ctx context.Context, img image.Image, k int, outPath string, progress adapter.ProgressFunc) (adapter.ClusterOutcome, error) {
	if k < 2 || k > len(palette) {
		return adapter.ClusterOutcome{}, fmt.Errorf("%w: clusters must be between 2 and %d", domain.ErrInvalidArgument, len(palette))
	}
	report(progress, 10, "Loading image...")
	lum, w, h := lumaPlane(img)
	if len(lum) == 0 {
		return adapter.ClusterOutcome{}, fmt.Errorf("%w: empty image", domain.ErrCalculation)
	}

	report(progress, 30, "Converting color space...")
	var hist [256]int
	for _, v := range lum {
		hist[v]++
	}

	report(progress, 50, "Applying K-means clustering...")
	centers, err := kmeansHist(ctx, hist, k)
	if err != nil {
		return adapter.ClusterOutcome{}, err
	}
	sort.Float64s(centers)

	report(progress, 80, "Processing results...")
	// Precomputed nearest-center lookup per luminance level.
	var labelOf [256]int
	for v := 0; v < 256; v++ {
		labelOf[v] = nearest(centers, float64(v))
	}

	// Mean source colour per cluster; the rendered image uses the palette.
	sumR := make([]float64, k)
	sumG := make([]float64, k)
	sumB := make([]float64, k)
	count := make([]int, k)
	rendered := image.NewRGBA(image.Rect(0, 0, w, h))
	b := img.Bounds()
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			label := labelOf[lum[i]]
			i++
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			sumR[label] += float64(r >> 8)
			sumG[label] += float64(g >> 8)
			sumB[label] += float64(bl >> 8)
			count[label]++
			rendered.SetRGBA(x, y, palette[label])
		}
	}

	outCenters := make([][]float64, 0, k)
	found := 0
	for c := 0; c < k; c++ {
		if count[c] == 0 {
			outCenters = append(outCenters, []float64{0, 0, 0})
			continue
		}
		found++
		n := float64(count[c])
		outCenters = append(outCenters, []float64{
			math.Round(sumR[c]/n*100) / 100,
			math.Round(sumG[c]/n*100) / 100,
			math.Round(sumB[c]/n*100) / 100,
		})
	}

	report(progress, 95, "Saving results...")
	if err := writePNG(outPath, rendered); err != nil {
		return adapter.ClusterOutcome{}, err
	}
	p.log.Debug().Int("clusters", found).Str("path", outPath).Msg("kmeans rendered")
	return adapter.ClusterOutcome{Centers: outCenters, ClustersFound: found, RenderedPath: outPath}, nil
}

// kmeansHist clusters 8-bit luminance levels weighted by their pixel counts.
// Centers start evenly spread over the occupied range and settle within
// kmeansEpsilon or kmeansMaxIterations.
func kmeansHist(ctx context.Context, hist [256]int, k int) ([]float64, error) {
	lo, hi := -1, -1
	for v := 0; v < 256; v++ {
		if hist[v] > 0 {
			if lo < 0 {
				lo = v
			}
			hi = v
		}
	}
	if lo < 0 {
		return nil, fmt.Errorf("%w: empty histogram", domain.ErrCalculation)
	}

	centers := make([]float64, k)
	for c := 0; c < k; c++ {
		centers[c] = float64(lo) + float64(hi-lo)*(float64(c)+0.5)/float64(k)
	}

	sum := make([]float64, k)
	n := make([]float64, k)
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for c := 0; c < k; c++ {
			sum[c], n[c] = 0, 0
		}
		for v := lo; v <= hi; v++ {
			if hist[v] == 0 {
				continue
			}
			c := nearest(centers, float64(v))
			sum[c] += float64(v) * float64(hist[v])
			n[c] += float64(hist[v])
		}
		shift := 0.0
		for c := 0; c < k; c++ {
			if n[c] == 0 {
				continue
			}
			next := sum[c] / n[c]
			if d := math.Abs(next - centers[c]); d > shift {
				shift = d
			}
			centers[c] = next
		}
		if shift < kmeansEpsilon {
			break
		}
	}
	return centers, nil
}

func nearest(centers []float64, v float64) int {
	best, bestDist := 0, math.MaxFloat64
	for c, center := range centers {
		if d := math.Abs(v - center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func (p *Processor) MeanGrid(img image.Image, verticalLines, horizontalLines []int) ([][]float64, error) {
	b := img.Bounds()
	if err := checkLines(verticalLines, b.Dx()); err != nil {
		return nil, fmt.Errorf("vertical lines: %w", err)
	}
	if err := checkLines(horizontalLines, b.Dy()); err != nil {
		return nil, fmt.Errorf("horizontal lines: %w", err)
	}

	lum, w, _ := lumaPlane(img)
	rows := len(horizontalLines) - 1
	cols := len(verticalLines) - 1
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			sum, count := 0.0, 0
			for y := horizontalLines[i]; y < horizontalLines[i+1]; y++ {
				for x := verticalLines[j]; x < verticalLines[j+1]; x++ {
					sum += float64(lum[y*w+x])
					count++
				}
			}
			out[i][j] = math.Round(sum/float64(count)*100) / 100
		}
	}
	return out, nil
}

// checkLines enforces at least two strictly increasing coordinates inside
// [0, dim].
func checkLines(lines []int, dim int) error {
	if len(lines) < 2 {
		return fmt.Errorf("%w: need at least two coordinates", domain.ErrInvalidArgument)
	}
	prev := -1
	for _, v := range lines {
		if v < 0 || v > dim {
			return fmt.Errorf("%w: coordinate %d out of bounds [0, %d]", domain.ErrInvalidArgument, v, dim)
		}
		if v <= prev {
			return fmt.Errorf("%w: coordinates must be strictly increasing", domain.ErrInvalidArgument)
		}
		prev = v
	}
	return nil
}

func (p *Processor) GaussianBlur(ctx context.Context, img image.Image, kernelSize int, sigma float64, outPath string, progress adapter.ProgressFunc) error {
	if kernelSize < 3 || kernelSize%2 == 0 {
		return fmt.Errorf("%w: kernel size must be odd and at least 3", domain.ErrInvalidArgument)
	}
	if sigma <= 0 {
		// OpenCV's sigma-from-kernel rule, kept for parity with stored
		// legacy results.
		sigma = 0.3*(float64(kernelSize-1)*0.5-1) + 0.8
	}

	report(progress, 10, "Loading image...")
	lum, w, h := lumaPlane(img)
	if len(lum) == 0 {
		return fmt.Errorf("%w: empty image", domain.ErrCalculation)
	}
	kernel := gaussianKernel(kernelSize, sigma)
	radius := kernelSize / 2

	report(progress, 40, "Blurring rows...")
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for x := 0; x < w; x++ {
			acc := 0.0
			for t := -radius; t <= radius; t++ {
				acc += kernel[t+radius] * float64(lum[y*w+clamp(x+t, w)])
			}
			tmp[y*w+x] = acc
		}
	}

	report(progress, 70, "Blurring columns...")
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for x := 0; x < w; x++ {
			acc := 0.0
			for t := -radius; t <= radius; t++ {
				acc += kernel[t+radius] * tmp[clamp(y+t, h)*w+x]
			}
			out.SetGray(x, y, color.Gray{Y: uint8(math.Round(math.Min(math.Max(acc, 0), 255)))})
		}
	}

	report(progress, 95, "Saving results...")
	return writePNG(outPath, out)
}

func gaussianKernel(size int, sigma float64) []float64 {
	kernel := make([]float64, size)
	radius := size / 2
	sum := 0.0
	for t := -radius; t <= radius; t++ {
		kernel[t+radius] = math.Exp(-float64(t*t) / (2 * sigma * sigma))
		sum += kernel[t+radius]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// clamp replicates the border pixel for out-of-range taps.
func clamp(v, dim int) int {
	if v < 0 {
		return 0
	}
	if v >= dim {
		return dim - 1
	}
	return v
}

func (p *Processor) AutoCrop(img image.Image) (adapter.CropBounds, error) {
	lum, w, h := lumaPlane(img)
	if len(lum) == 0 {
		return adapter.CropBounds{}, fmt.Errorf("%w: empty image", domain.ErrCalculation)
	}

	rowWhite := make([]int, h)
	colWhite := make([]int, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if lum[y*w+x] >= cropWhiteLevel {
				rowWhite[y]++
				colWhite[x]++
			}
		}
	}

	top, bottom := -1, -1
	for y := 0; y < h; y++ {
		if float64(rowWhite[y])/float64(w) <= cropWhiteRatio {
			if top < 0 {
				top = y
			}
			bottom = y
		}
	}
	left, right := -1, -1
	for x := 0; x < w; x++ {
		if float64(colWhite[x])/float64(h) <= cropWhiteRatio {
			if left < 0 {
				left = x
			}
			right = x
		}
	}
	if top < 0 || left < 0 {
		return adapter.CropBounds{}, fmt.Errorf("%w: no content detected", domain.ErrCalculation)
	}

	// Inset trims the anti-aliased fringe; skipped when the box is too
	// small to survive it.
	if bottom-top > 2*cropInset {
		top += cropInset
		bottom -= cropInset
	}
	if right-left > 2*cropInset {
		left += cropInset
		right -= cropInset
	}
	return adapter.CropBounds{Top: top, Bottom: bottom, Left: left, Right: right}, nil
}
