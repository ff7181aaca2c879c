package tendermint

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// configSubstitutions are the literal config.toml rewrites applied to a
// fresh node home. The file keeps its upstream comments, so edits are
// textual rather than a TOML re-encode.
var configSubstitutions = []struct {
	old string
	new string
}{
	{"fast_sync = true", "fast_sync = false"},
	{"pex = true", "pex = false"},
	{"addr_book_strict = true", "addr_book_strict = false"},
}

var (
	persistentPeersLine = regexp.MustCompile(`(?m)^persistent_peers = ".*"$`)
	externalAddressLine = regexp.MustCompile(`(?m)^external_address = ".*"$`)
)

func (n *Node) configPath() string {
	return filepath.Join(n.cfg.Home, "config", "config.toml")
}

func (n *Node) editConfig(edit func(string) string) error {
	path := n.configPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading node config: %w", err)
	}

	if err := os.WriteFile(path, []byte(edit(string(data))), 0o644); err != nil {
		return fmt.Errorf("writing node config: %w", err)
	}
	return nil
}

// OverrideDefaults disables fast sync, peer exchange and strict address
// book checks in config.toml. Local supervised chains have a fixed peer
// set and gossip only gets in the way.
func (n *Node) OverrideDefaults() error {
	return n.editConfig(func(content string) string {
		for _, sub := range configSubstitutions {
			content = strings.ReplaceAll(content, sub.old, sub.new)
		}
		return content
	})
}

// InjectPeers writes the validators into the persistent peer list. The
// non-routable any-address hostname is mapped to loopback so locally
// colocated validators can actually dial each other.
func (n *Node) InjectPeers(validators []Validator) error {
	peers := make([]string, 0, len(validators))
	for _, v := range validators {
		host := v.Hostname
		if host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		port := v.P2PPort
		if port == 0 {
			port = 26656
		}
		peers = append(peers, fmt.Sprintf("%s@%s:%d", v.NodeID, host, port))
	}

	line := fmt.Sprintf("persistent_peers = %q", strings.Join(peers, ","))
	return n.editConfig(func(content string) string {
		return persistentPeersLine.ReplaceAllString(content, line)
	})
}

// OverrideExternalAddress rewrites the advertised P2P address verbatim.
func (n *Node) OverrideExternalAddress(addr string) error {
	line := fmt.Sprintf("external_address = %q", addr)
	return n.editConfig(func(content string) string {
		return externalAddressLine.ReplaceAllString(content, line)
	})
}
