package boltz

import "encoding/json"

// SubmitResponse is the remote acknowledgment of a submitted prediction.
type SubmitResponse struct {
	PredictionID string `json:"prediction_id"`
	Message      string `json:"message,omitempty"`
}

// PredictionListResponse is the status endpoint envelope. The endpoint
// returns a list even when queried for a single prediction id.
type PredictionListResponse struct {
	Predictions []PredictionRecord `json:"predictions"`
	Total       *int64             `json:"total,omitempty"`
}

// PredictionRecord is one prediction's remote state.
type PredictionRecord struct {
	PredictionID               string             `json:"prediction_id"`
	PredictionName             string             `json:"prediction_name,omitempty"`
	PredictionStatus           string             `json:"prediction_status"`
	PredictionStageDescription string             `json:"prediction_stage_description,omitempty"`
	CreatedAt                  string             `json:"created_at,omitempty"`
	UpdatedAt                  string             `json:"updated_at,omitempty"`
	PredictionResults          *PredictionResults `json:"prediction_results,omitempty"`
}

// PredictionResults carries the result payload of a finished prediction.
type PredictionResults struct {
	Status           string            `json:"status,omitempty"`
	ProcessingTimeMS *int64            `json:"processing_time_ms,omitempty"`
	Output           *PredictionOutput `json:"output,omitempty"`
}

// PredictionOutput holds the artifact location and the raw metrics blob.
// Metrics stays raw until ParseMetrics validates it.
type PredictionOutput struct {
	DownloadURL string          `json:"download_url,omitempty"`
	Metrics     json.RawMessage `json:"metrics,omitempty"`
}

// Remote prediction status values. Comparison is case-insensitive.
const (
	RemotePending   = "PENDING"
	RemoteCreated   = "CREATED"
	RemoteRunning   = "RUNNING"
	RemoteCompleted = "COMPLETED"
	RemoteFailed    = "FAILED"
)
