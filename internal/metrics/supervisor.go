// Package metrics provides Prometheus metrics for the deployment supervisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deploymentState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentnode",
		Subsystem: "deployment",
		Name:      "state",
		Help:      "Current deployment state (one series per state, 1 = active)",
	}, []string{"build_dir", "state"})

	deploymentStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentnode",
		Subsystem: "deployment",
		Name:      "starts_total",
		Help:      "Deployment start attempts by outcome",
	}, []string{"outcome"})

	nodeRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentnode",
		Subsystem: "tendermint",
		Name:      "restarts_total",
		Help:      "Consensus node restarts by trigger signature",
	}, []string{"signature"})

	nodeSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentnode",
		Subsystem: "tendermint",
		Name:      "monitor_signals_total",
		Help:      "Failure signatures matched in consensus node output",
	}, []string{"signature"})

	stalePIDFiles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentnode",
		Subsystem: "pidfile",
		Name:      "stale_total",
		Help:      "Stale PID file detections",
	})

	killedProcesses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentnode",
		Subsystem: "proctree",
		Name:      "killed_total",
		Help:      "Processes terminated by the tree killer",
	})
)

// SetDeploymentState records a deployment state transition.
// The previous state's series is cleared so at most one is active.
func SetDeploymentState(buildDir, oldState, newState string) {
	if oldState != "" {
		deploymentState.WithLabelValues(buildDir, oldState).Set(0)
	}
	deploymentState.WithLabelValues(buildDir, newState).Set(1)
}

// IncDeploymentStart counts a deployment start attempt outcome
// ("ok", "error" or "rejected").
func IncDeploymentStart(outcome string) {
	deploymentStarts.WithLabelValues(outcome).Inc()
}

// IncNodeRestart counts a consensus node restart by trigger signature.
func IncNodeRestart(signature string) {
	nodeRestarts.WithLabelValues(signature).Inc()
}

// IncNodeSignal counts a matched failure signature.
func IncNodeSignal(signature string) {
	nodeSignals.WithLabelValues(signature).Inc()
}

// IncStalePIDFile counts a stale PID file detection.
func IncStalePIDFile() {
	stalePIDFiles.Inc()
}

// IncKilledProcess counts a terminated process.
func IncKilledProcess() {
	killedProcesses.Inc()
}
