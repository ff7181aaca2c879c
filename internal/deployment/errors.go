package deployment

import (
	"errors"
	"fmt"
)

// ErrStopping is returned by RunDeployment once the manager-wide stopping
// flag has been set.
var ErrStopping = errors.New("manager is stopping, no new deployments accepted")

// TransitionError means a start/stop was requested while the deployment
// was already in a transient state.
type TransitionError struct {
	BuildDir string
	State    State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("deployment %s already in transition (%s)", e.BuildDir, e.State)
}
