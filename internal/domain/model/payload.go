package model

import "encoding/json"

// Analysis method tags. One data variant is defined per method so the
// compiler keeps track of every shape that can be completed or failed,
// instead of threading untyped maps through the orchestrator.
const (
	MethodCluster    = "cluster"
	MethodBrightness = "calculate_mean_lines"
	MethodBlur       = "gaussian_blur"
	MethodCrop       = "crop"
)

// AnalysisData is the tagged union of per-method computed outputs. Variants
// are packed into an envelope's data map when the computation finishes.
type AnalysisData interface {
	AnalysisMethod() string
}

// ClusterData is the outcome of k-means colour clustering.
type ClusterData struct {
	Status        string      `json:"status"`
	Centers       [][]float64 `json:"centers"`
	ClustersFound int         `json:"clusters_found"`
}

func (ClusterData) AnalysisMethod() string { return MethodCluster }

// BrightnessGridData is the outcome of grid brightness averaging.
type BrightnessGridData struct {
	Status       string      `json:"status"`
	Means        [][]float64 `json:"means"`
	GridSize     string      `json:"grid_size"`
	RegionsCount int         `json:"regions_count"`
}

func (BrightnessGridData) AnalysisMethod() string { return MethodBrightness }

// BlurData is the outcome of a Gaussian blur; the blurred image itself is a
// resource, not inline data.
type BlurData struct {
	Status     string  `json:"status"`
	KernelSize int     `json:"kernel_size"`
	Sigma      float64 `json:"sigma"`
}

func (BlurData) AnalysisMethod() string { return MethodBlur }

// CropData is the outcome of auto-crop bounds detection.
type CropData struct {
	Status string `json:"status"`
	Top    int    `json:"top"`
	Bottom int    `json:"bottom"`
	Left   int    `json:"left"`
	Right  int    `json:"right"`
}

func (CropData) AnalysisMethod() string { return MethodCrop }

// PackData converts a typed variant into the map form stored inside an
// envelope's data field.
func PackData(d AnalysisData) (map[string]any, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
