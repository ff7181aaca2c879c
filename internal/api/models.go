package api

import "github.com/smazurov/agentnode/internal/tendermint"

// Envelope is the status/error wrapper every control payload carries.
// Domain failures are reported inside the envelope with a 200, not as
// transport errors; callers key off the status flag.
type Envelope struct {
	Status bool   `json:"status" doc:"Whether the operation succeeded"`
	Error  string `json:"error,omitempty" doc:"Error message when status is false"`
}

func okEnvelope() Envelope {
	return Envelope{Status: true}
}

func failEnvelope(err error) Envelope {
	return Envelope{Status: false, Error: err.Error()}
}

// ParamsData is the node identity returned by GET /params. Private key
// material never appears here.
type ParamsData struct {
	Envelope
	Address string         `json:"address,omitempty" doc:"Validator address"`
	PubKey  map[string]any `json:"pub_key,omitempty" doc:"Validator public key"`
}

// ParamsResponse wraps ParamsData for huma.
type ParamsResponse struct {
	Body ParamsData
}

// UpdateParamsBody carries the validator set and peer configuration for
// POST /params.
type UpdateParamsBody struct {
	Validators      []tendermint.Validator `json:"validators" doc:"Validator set written to genesis and peers"`
	ExternalAddress string                 `json:"external_address,omitempty" doc:"Advertised P2P address override"`
}

// UpdateParamsResponse wraps the envelope for POST /params.
type UpdateParamsResponse struct {
	Body Envelope
}

// ResetData is the payload for gentle and hard resets.
type ResetData struct {
	Envelope
	Message string `json:"message,omitempty" doc:"Human-readable result"`
}

// ResetResponse wraps ResetData for huma.
type ResetResponse struct {
	Body ResetData
}

// AppHashData is the payload for GET /app_hash.
type AppHashData struct {
	Envelope
	AppHash string `json:"app_hash,omitempty" doc:"Application state hash at the requested height"`
	Height  int64  `json:"height,omitempty" doc:"Block height the hash belongs to"`
}

// AppHashResponse wraps AppHashData for huma.
type AppHashResponse struct {
	Body AppHashData
}

// StatusData is the supervisor liveness payload.
type StatusData struct {
	Envelope
	NodePID      int    `json:"node_pid" doc:"PID of the supervised consensus node, 0 when not running"`
	ShuttingDown bool   `json:"shutting_down" doc:"Whether supervisor shutdown has begun"`
	Version      string `json:"version" doc:"Supervisor version"`
}

// StatusResponse wraps StatusData for huma.
type StatusResponse struct {
	Body StatusData
}

// LogsData is a point-in-time dump of the in-memory log buffer.
type LogsData struct {
	Entries []LogEntry `json:"entries" doc:"Buffered log entries, oldest first"`
	Count   int        `json:"count" doc:"Number of entries returned"`
}

// LogEntry is one buffered log record.
type LogEntry struct {
	Timestamp  string         `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"deployment" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// LogsResponse wraps LogsData for huma.
type LogsResponse struct {
	Body LogsData
}
