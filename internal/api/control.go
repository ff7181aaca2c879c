package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/agentnode/internal/version"
)

// registerControlRoutes sets up the consensus node control endpoints.
func (s *Server) registerControlRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-params",
		Method:      http.MethodGet,
		Path:        "/params",
		Summary:     "Node identity",
		Description: "Returns the node's validator identity. Private key material is redacted.",
		Tags:        []string{"control"},
	}, s.handleGetParams)

	huma.Register(s.api, huma.Operation{
		OperationID: "update-params",
		Method:      http.MethodPost,
		Path:        "/params",
		Summary:     "Update validator set",
		Description: "Rewrites the genesis validator set and persistent peer configuration.",
		Tags:        []string{"control"},
	}, s.handleUpdateParams)

	huma.Register(s.api, huma.Operation{
		OperationID: "gentle-reset",
		Method:      http.MethodGet,
		Path:        "/gentle_reset",
		Summary:     "Gentle reset",
		Description: "Restarts the consensus node without discarding chain state.",
		Tags:        []string{"control"},
	}, s.handleGentleReset)

	huma.Register(s.api, huma.Operation{
		OperationID: "hard-reset",
		Method:      http.MethodGet,
		Path:        "/hard_reset",
		Summary:     "Hard reset",
		Description: "Stops the node, prunes chain state, rewrites genesis parameters and restarts.",
		Tags:        []string{"control"},
	}, s.handleHardReset)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-app-hash",
		Method:      http.MethodGet,
		Path:        "/app_hash",
		Summary:     "App hash",
		Description: "Proxies the node's block RPC and returns the app hash at the given height.",
		Tags:        []string{"control"},
	}, s.handleAppHash)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Status",
		Description: "Supervisor liveness and node process status.",
		Tags:        []string{"system"},
	}, s.handleStatus)
}

func (s *Server) handleGetParams(_ context.Context, _ *struct{}) (*ParamsResponse, error) {
	path := filepath.Join(s.options.NodeHome, "config", "priv_validator_key.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return &ParamsResponse{Body: ParamsData{Envelope: failEnvelope(err)}}, nil
	}

	var key struct {
		Address string         `json:"address"`
		PubKey  map[string]any `json:"pub_key"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return &ParamsResponse{Body: ParamsData{Envelope: failEnvelope(err)}}, nil
	}

	return &ParamsResponse{Body: ParamsData{
		Envelope: okEnvelope(),
		Address:  key.Address,
		PubKey:   key.PubKey,
	}}, nil
}

func (s *Server) handleUpdateParams(_ context.Context, input *struct {
	Body UpdateParamsBody
}) (*UpdateParamsResponse, error) {
	steps := []func() error{
		func() error { return s.node.WriteValidators(input.Body.Validators) },
		func() error { return s.node.InjectPeers(input.Body.Validators) },
		func() error { return s.node.OverrideDefaults() },
	}
	if input.Body.ExternalAddress != "" {
		steps = append(steps, func() error {
			return s.node.OverrideExternalAddress(input.Body.ExternalAddress)
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return &UpdateParamsResponse{Body: failEnvelope(err)}, nil
		}
	}
	return &UpdateParamsResponse{Body: okEnvelope()}, nil
}

func (s *Server) handleGentleReset(_ context.Context, _ *struct{}) (*ResetResponse, error) {
	if err := s.node.GentleReset(); err != nil {
		return &ResetResponse{Body: ResetData{Envelope: failEnvelope(err)}}, nil
	}
	return &ResetResponse{Body: ResetData{
		Envelope: okEnvelope(),
		Message:  "node restarted",
	}}, nil
}

func (s *Server) handleHardReset(_ context.Context, input *struct {
	GenesisTime   string `query:"genesis_time" doc:"Genesis time for the restarted chain (RFC3339)"`
	InitialHeight string `query:"initial_height" doc:"Initial block height for the restarted chain"`
	PeriodCount   int    `query:"period_count" doc:"Reset period count, becomes part of the chain id"`
}) (*ResetResponse, error) {
	genesisTime := input.GenesisTime
	if genesisTime == "" {
		genesisTime = time.Now().UTC().Format(time.RFC3339)
	}
	initialHeight := input.InitialHeight
	if initialHeight == "" {
		initialHeight = "1"
	}

	if err := s.node.HardReset(genesisTime, initialHeight, input.PeriodCount, s.options.DevMode); err != nil {
		return &ResetResponse{Body: ResetData{Envelope: failEnvelope(err)}}, nil
	}
	return &ResetResponse{Body: ResetData{
		Envelope: okEnvelope(),
		Message:  "chain reset and node restarted",
	}}, nil
}

func (s *Server) handleAppHash(_ context.Context, input *struct {
	Height int64 `query:"height" doc:"Block height to fetch the app hash for"`
}) (*AppHashResponse, error) {
	url := s.options.NodeRPCURL + "/block"
	if input.Height > 0 {
		url += "?height=" + strconv.FormatInt(input.Height, 10)
	}

	resp, err := s.rpcClient.Get(url)
	if err != nil {
		return &AppHashResponse{Body: AppHashData{Envelope: failEnvelope(err)}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("node RPC returned status %d", resp.StatusCode)
		return &AppHashResponse{Body: AppHashData{Envelope: failEnvelope(err)}}, nil
	}

	var block struct {
		Result struct {
			Block struct {
				Header struct {
					AppHash string `json:"app_hash"`
					Height  string `json:"height"`
				} `json:"header"`
			} `json:"block"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&block); err != nil {
		return &AppHashResponse{Body: AppHashData{Envelope: failEnvelope(err)}}, nil
	}

	height, _ := strconv.ParseInt(block.Result.Block.Header.Height, 10, 64)
	return &AppHashResponse{Body: AppHashData{
		Envelope: okEnvelope(),
		AppHash:  block.Result.Block.Header.AppHash,
		Height:   height,
	}}, nil
}

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*StatusResponse, error) {
	pid := 0
	if s.node != nil {
		pid = s.node.PID()
	}
	return &StatusResponse{Body: StatusData{
		Envelope:     okEnvelope(),
		NodePID:      pid,
		ShuttingDown: s.shuttingDown.Load(),
		Version:      version.Get().Version,
	}}, nil
}
