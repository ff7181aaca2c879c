package tendermint

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/metrics"
)

// signal is one parsed failure signature from the node's output.
type signal struct {
	signature string
	line      string
}

// failureSignatures maps known node output lines to signature names. A
// match means the node process needs an in-place restart.
var failureSignatures = []struct {
	signature string
	match     string
}{
	{"rpc_server_stopped", "RPC HTTP server stopped"},
	{"abci_connection_lost", "Stopping abci.socketClient for error: read message: EOF"},
}

func matchSignature(line string) (string, bool) {
	for _, fs := range failureSignatures {
		if strings.Contains(line, fs.match) {
			return fs.signature, true
		}
	}
	return "", false
}

// scanOutput reads the node's combined output line by line and forwards
// matched failure signatures to the monitor loop. One scanner runs per
// process instance; it exits when its pipe closes. Transient read errors
// are logged and the loop continues.
func (n *Node) scanOutput(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')

		if line != "" {
			if sig, ok := matchSignature(line); ok {
				select {
				case n.signals <- signal{signature: sig, line: strings.TrimSpace(line)}:
				default:
					// Monitor already has a restart pending
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return
			}
			n.logger.Warn("Error reading node output", "error", err)
			continue
		}
	}
}

// monitorLoop is the restart state machine. It runs for the lifetime of
// the supervisor, across node process restarts, and exits only on the
// stop channel.
func (n *Node) monitorLoop() {
	defer close(n.monitorDone)

	for {
		select {
		case <-n.monitorStop:
			return
		case sig := <-n.signals:
			n.logger.Warn("Node failure signature detected, restarting",
				"signature", sig.signature, "line", sig.line)
			metrics.IncNodeSignal(sig.signature)
			n.publish(events.NodeSignalEvent{
				Signature: sig.signature,
				Line:      sig.line,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			n.restart(sig.signature)
		}
	}
}

// restart stops and starts the node process in place. The monitor keeps
// running either way; a failed respawn is logged so the next signature or
// an operator reset can try again.
func (n *Node) restart(signature string) {
	n.restartMu.Lock()
	defer n.restartMu.Unlock()

	n.stopProcess()

	if err := n.startProcess(); err != nil {
		n.logger.Error("Failed to restart consensus node", "error", err)
		return
	}

	metrics.IncNodeRestart(signature)
	n.publish(events.NodeRestartedEvent{
		Signature: signature,
		PID:       n.PID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Node) publish(evt events.Event) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(evt)
}
