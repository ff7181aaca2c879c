package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/logging"
	"github.com/smazurov/agentnode/internal/tendermint"
)

// NodeController is the slice of the consensus node supervisor the
// control API drives.
type NodeController interface {
	PID() int
	GentleReset() error
	HardReset(genesisTime, initialHeight string, periodCount int, snapshot bool) error
	WriteValidators([]tendermint.Validator) error
	InjectPeers([]tendermint.Validator) error
	OverrideExternalAddress(addr string) error
	OverrideDefaults() error
}

// Options configures the control API server.
type Options struct {
	Node NodeController

	// NodeHome locates the node's key material for GET /params.
	NodeHome string

	// NodeRPCURL is the node's own RPC endpoint, proxied by /app_hash.
	NodeRPCURL string

	// DevMode enables home snapshots before hard resets.
	DevMode bool

	EventBus          *events.Bus
	PrometheusHandler http.Handler
}

// Server is the Huma v2 control API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	node       NodeController
	options    *Options
	eventBus   *events.Bus
	rpcClient  *http.Client
	logger     *slog.Logger

	shuttingDown atomic.Bool
}

// NewServer creates the control API server with Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("AgentNode Control API", "1.0.0")
	config.Info.Description = "Control surface for the supervised consensus node"
	// Empty servers list makes OpenAPI use relative paths
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:       api,
		mux:       mux,
		node:      opts.Node,
		options:   opts,
		eventBus:  opts.EventBus,
		rpcClient: &http.Client{Timeout: 10 * time.Second},
		logger:    logging.GetLogger("api"),
	}

	api.UseMiddleware(HTTPLoggingMiddleware)
	api.UseMiddleware(server.shutdownMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerControlRoutes()
	server.registerLogRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup.
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// MarkShuttingDown makes every subsequent request fail with a 500. Called
// once when supervisor shutdown begins; never cleared.
func (s *Server) MarkShuttingDown() {
	s.shuttingDown.Store(true)
}

// shutdownMiddleware rejects all traffic once shutdown has begun.
func (s *Server) shutdownMiddleware(ctx huma.Context, next func(huma.Context)) {
	if s.shuttingDown.Load() {
		huma.WriteErr(s.api, ctx, http.StatusInternalServerError, "supervisor is shutting down")
		return
	}
	next(ctx)
}

// Start serves the control API on addr. Blocks until the server closes.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting control API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down immediately.
func (s *Server) Stop() error {
	s.logger.Info("Stopping control API server")
	s.MarkShuttingDown()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
