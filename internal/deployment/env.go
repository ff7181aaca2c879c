package deployment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// envDescriptorFile is the agent's environment descriptor, rewritten
	// before every start.
	envDescriptorFile = "agent.json"

	// agentDataDir is the canonical working subdirectory for the agent's
	// persisted state inside the build dir.
	agentDataDir = "agent_data"
)

// RewriteEnvDescriptor normalizes the agent's environment descriptor in
// buildDir: the working directory is forced to the canonical data
// subdirectory, and any embedded consensus-node URLs are rewritten to the
// locally managed control and RPC addresses. The file is re-encoded as
// UTF-8 JSON regardless of how it was written.
func RewriteEnvDescriptor(buildDir, controlURL, rpcURL string) error {
	path := filepath.Join(buildDir, envDescriptorFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading env descriptor: %w", err)
	}

	var descriptor map[string]any
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return fmt.Errorf("parsing env descriptor %s: %w", path, err)
	}

	descriptor["working_dir"] = filepath.Join(buildDir, agentDataDir)
	rewriteNodeURLs(descriptor, controlURL, rpcURL)

	out, err := json.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding env descriptor: %w", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing env descriptor: %w", err)
	}
	return nil
}

// rewriteNodeURLs walks the descriptor and replaces consensus-node URL
// values. Keys naming the node control surface get the control URL,
// remaining tendermint keys the RPC URL. Nested objects are handled
// recursively.
func rewriteNodeURLs(node map[string]any, controlURL, rpcURL string) {
	for key, value := range node {
		switch v := value.(type) {
		case map[string]any:
			rewriteNodeURLs(v, controlURL, rpcURL)
		case string:
			lower := strings.ToLower(key)
			switch {
			case strings.Contains(lower, "tendermint_com") || strings.Contains(lower, "node_control"):
				node[key] = controlURL
			case strings.Contains(lower, "tendermint"):
				node[key] = rpcURL
			}
		}
	}
}
