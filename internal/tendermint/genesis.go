package tendermint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Validator is one validator entry for genesis and peer configuration.
type Validator struct {
	Address  string         `json:"address" doc:"Validator address"`
	PubKey   map[string]any `json:"pub_key" doc:"Validator public key object"`
	Power    string         `json:"power" example:"10" doc:"Voting power"`
	Name     string         `json:"name" doc:"Validator moniker"`
	NodeID   string         `json:"node_id" doc:"P2P node id"`
	Hostname string         `json:"hostname" doc:"Reachable hostname"`
	P2PPort  int            `json:"p2p_port,omitempty" example:"26656" doc:"P2P port"`
}

func (n *Node) genesisPath() string {
	return filepath.Join(n.cfg.Home, "config", "genesis.json")
}

func (n *Node) readGenesis() (map[string]any, error) {
	data, err := os.ReadFile(n.genesisPath())
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	var genesis map[string]any
	if err := json.Unmarshal(data, &genesis); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}
	return genesis, nil
}

func (n *Node) writeGenesis(genesis map[string]any) error {
	data, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis file: %w", err)
	}
	if err := os.WriteFile(n.genesisPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}
	return nil
}

// ResetGenesis rewrites the chain's starting parameters in place. The
// chain id is derived from the reset period count so restarted chains
// never collide with the previous period's id.
func (n *Node) ResetGenesis(genesisTime string, initialHeight string, periodCount int) error {
	genesis, err := n.readGenesis()
	if err != nil {
		return err
	}

	genesis["genesis_time"] = genesisTime
	genesis["initial_height"] = initialHeight
	genesis["chain_id"] = fmt.Sprintf("%s-%d", n.cfg.ChainIDPrefix, periodCount)

	return n.writeGenesis(genesis)
}

// WriteValidators replaces the validator set in genesis.json.
func (n *Node) WriteValidators(validators []Validator) error {
	genesis, err := n.readGenesis()
	if err != nil {
		return err
	}

	set := make([]map[string]any, 0, len(validators))
	for _, v := range validators {
		set = append(set, map[string]any{
			"address": v.Address,
			"pub_key": v.PubKey,
			"power":   v.Power,
			"name":    v.Name,
		})
	}
	genesis["validators"] = set

	return n.writeGenesis(genesis)
}
