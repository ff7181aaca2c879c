package events

// Event type constants for kelindar/event.
const (
	TypeNodeSignal uint32 = iota + 1
	TypeNodeRestarted
	TypeDeploymentState
	TypeStalePIDDetected
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// NodeSignalEvent is published when the consensus node monitor matches a
// known failure signature in the node's output.
type NodeSignalEvent struct {
	Signature string `json:"signature" example:"rpc_server_stopped" doc:"Matched failure signature"`
	Line      string `json:"line" doc:"Raw log line that matched"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Detection timestamp"`
}

// Type returns the event type identifier for NodeSignalEvent.
func (e NodeSignalEvent) Type() uint32 { return TypeNodeSignal }

// NodeRestartedEvent is published after the monitor restarts the consensus
// node process in place.
type NodeRestartedEvent struct {
	Signature string `json:"signature" doc:"Signature that triggered the restart"`
	PID       int    `json:"pid" doc:"PID of the restarted node process"`
	Timestamp string `json:"timestamp" doc:"Restart timestamp"`
}

// Type returns the event type identifier for NodeRestartedEvent.
func (e NodeRestartedEvent) Type() uint32 { return TypeNodeRestarted }

// DeploymentStateEvent is published on every deployment state transition.
type DeploymentStateEvent struct {
	BuildDir  string `json:"build_dir" doc:"Deployment build directory"`
	OldState  string `json:"old_state" example:"starting" doc:"Previous state"`
	NewState  string `json:"new_state" example:"started" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Error message for error transitions"`
	Timestamp string `json:"timestamp" doc:"Transition timestamp"`
}

// Type returns the event type identifier for DeploymentStateEvent.
func (e DeploymentStateEvent) Type() uint32 { return TypeDeploymentState }

// StalePIDDetectedEvent is published when a PID file names a dead or
// mismatched process.
type StalePIDDetectedEvent struct {
	Path      string `json:"path" doc:"PID file path"`
	PID       int    `json:"pid" doc:"Recorded PID"`
	Removed   bool   `json:"removed" doc:"Whether the stale file was removed"`
	Timestamp string `json:"timestamp" doc:"Detection timestamp"`
}

// Type returns the event type identifier for StalePIDDetectedEvent.
func (e StalePIDDetectedEvent) Type() uint32 { return TypeStalePIDDetected }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"deployment" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
