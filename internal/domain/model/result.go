package model

import (
	"encoding/json"
	"time"

	"image-analysis-backend/internal/domain"
)

// Result record statuses carried inside the payload's data map.
const (
	ResultStatusProcessing = "processing"
	ResultStatusCompleted  = "completed"
	ResultStatusFailed     = "failed"
)

// ResourceRef points at a generated file artifact whose lifecycle is bound to
// the owning result record: deleting the record deletes the file.
type ResourceRef struct {
	Type string `json:"type"`
	Key  string `json:"key"`
	Path string `json:"path"`
}

// ResultRecord is the durable row describing a computation's inputs, outputs,
// and generated artifacts for a (subject image, method) pair.
type ResultRecord struct {
	ID        string
	ImageID   int64
	Method    string
	Payload   Envelope
	CreatedAt time.Time
}

// Envelope is the persisted JSON payload of a result record. Two formats
// exist in the store: the current shape {parameters, data, resources} and a
// legacy flat map written before the split. The boundary decodes both into
// one explicit type instead of shape-sniffing on every read path.
type Envelope struct {
	Parameters map[string]any `json:"parameters"`
	Data       map[string]any `json:"data"`
	Resources  []ResourceRef  `json:"resources"`

	// legacy holds the raw flat map when the stored payload predates the
	// parameters/data split; nil for current-format records.
	legacy map[string]any
}

// NewEnvelope packs parameters, data, and resources into a current-format
// payload. Nil maps are normalised to empty ones so the stored JSON always
// carries all three keys.
func NewEnvelope(parameters, data map[string]any, resources []ResourceRef) Envelope {
	if parameters == nil {
		parameters = map[string]any{}
	}
	if data == nil {
		data = map[string]any{}
	}
	if resources == nil {
		resources = []ResourceRef{}
	}
	return Envelope{Parameters: parameters, Data: data, Resources: resources}
}

// PendingEnvelope is the payload written synchronously before the offloaded
// computation starts, so a poller never observes "not found" for a running
// job.
func PendingEnvelope(parameters map[string]any) Envelope {
	return NewEnvelope(parameters, map[string]any{
		"status":   ResultStatusProcessing,
		"progress": 0,
	}, nil)
}

// FailedData is the data map recorded when the offloaded unit of work failed.
func FailedData(message string) map[string]any {
	return map[string]any{
		"status": ResultStatusFailed,
		"error":  message,
	}
}

// DecodeEnvelope parses a stored payload, detecting the format once at the
// boundary. A payload is current-format when it is an object carrying both
// "parameters" and "data" as objects; anything else is treated as legacy.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Envelope{}, domain.ErrReadDatabaseRow
	}
	_, hasParams := flat["parameters"].(map[string]any)
	_, hasData := flat["data"].(map[string]any)
	if !hasParams || !hasData {
		return Envelope{legacy: flat}, nil
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, domain.ErrReadDatabaseRow
	}
	if env.Parameters == nil {
		env.Parameters = map[string]any{}
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return env, nil
}

// Encode serialises the envelope for storage. Legacy envelopes round-trip
// unchanged.
func (e Envelope) Encode() ([]byte, error) {
	if e.legacy != nil {
		return json.Marshal(e.legacy)
	}
	return json.Marshal(e)
}

// Legacy reports whether the payload was stored in the pre-split flat shape.
func (e Envelope) Legacy() bool { return e.legacy != nil }

// Status returns the computation status carried in the data map; legacy
// records report completed (they were only ever written after the fact).
func (e Envelope) Status() string {
	if e.legacy != nil {
		return ResultStatusCompleted
	}
	if s, ok := e.Data["status"].(string); ok {
		return s
	}
	return ""
}

// Unpacked flattens parameters and data into a single map, the shape read
// endpoints serve. Legacy records are already flat and are returned as-is.
// Data keys win on collision, mirroring how records were flattened before
// the split.
func (e Envelope) Unpacked() map[string]any {
	if e.legacy != nil {
		return e.legacy
	}
	out := make(map[string]any, len(e.Parameters)+len(e.Data))
	for k, v := range e.Parameters {
		out[k] = v
	}
	for k, v := range e.Data {
		out[k] = v
	}
	return out
}
