package deployment

// State represents the lifecycle state of one deployment.
type State string

// Deployment states. StateNone is the implicit value for unknown build dirs.
const (
	StateNone     State = "none"
	StateStarting State = "starting"
	StateStarted  State = "started"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// inTransition reports whether the state is a transient one that blocks
// concurrent start/stop calls.
func (s State) inTransition() bool {
	return s == StateStarting || s == StateStopping
}
