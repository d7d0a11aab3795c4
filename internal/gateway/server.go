package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"imagetool/internal/domain"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// maxCallBody caps POST /v1/tools/{name} argument bodies.
const maxCallBody = 1 << 20

// ToolCaller lists and runs tools. *tooling.ToolRegistry satisfies it.
type ToolCaller interface {
	Definitions() []domain.ToolDefinition
	Call(ctx context.Context, name string, args json.RawMessage) (*domain.ToolResult, error)
}

// Server is an HTTP server that optionally enforces Bearer token auth.
type Server struct {
	cfg         *domain.GatewayConfig
	tools       atomic.Pointer[toolBox]
	token       atomic.Pointer[string]
	logger      *slog.Logger
	server      *http.Server
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
	listener    net.Listener
}

// toolBox lets a possibly-nil ToolCaller live in an atomic.Pointer.
type toolBox struct{ ToolCaller }

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger. If nil, slog.Default() is used.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer builds a gateway server from config. Port 0 means pick a random port.
// Tool calls arrive as POST /v1/tools/{name} or as tool_call messages on /ws.
// Returns ErrInvalidPort if port is not in 0..65535.
func NewServer(cfg *domain.GatewayConfig, tools ToolCaller, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8080, Auth: domain.AuthConfig{}}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	s := &Server{cfg: cfg}
	s.Reload(tools, cfg.Auth.AuthToken)
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /v1/tools", s.handleList)
	mux.HandleFunc("POST /v1/tools/{name}", s.handleCall)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) { HandleWS(w, r, s.currentTools(), s.log()) })

	s.server = &http.Server{
		Handler:           bearerAuthFunc(s.currentToken)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Reload swaps the tools and the bearer token for subsequent requests.
// In-flight calls finish on the tools they started with. The port is fixed
// for the server's lifetime.
func (s *Server) Reload(tools ToolCaller, token string) {
	s.tools.Store(&toolBox{tools})
	s.token.Store(&token)
}

func (s *Server) currentTools() ToolCaller {
	return s.tools.Load().ToolCaller
}

func (s *Server) currentToken() string {
	return *s.token.Load()
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Addr returns the bound address (e.g. "127.0.0.1:8080") after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run(), if any.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the HTTP handler used by the server (BearerAuth + routes). For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until shutdown is closed. Returns nil when shutdown.
func (s *Server) Run(shutdown <-chan struct{}) error {
	addr := ":" + strconv.Itoa(s.cfg.Port)
	ln, err := netListen("tcp", addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.log().Info("gateway listening", "addr", s.addr, "auth", s.currentToken() != "")

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = serverShutdown(s.server, ctx)
	if err != nil {
		return err
	}
	<-done
	s.log().Info("gateway stopped")
	return nil
}

// serverShutdown is the function used to shut down the server; tests may replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}

// ListResponse is the body of GET /v1/tools.
type ListResponse struct {
	Tools []domain.ToolDefinition `json:"tools"`
}

// CallResponse is the body of POST /v1/tools/{name}. Exactly one of Result
// and Error is set.
type CallResponse struct {
	Result *domain.ToolResult `json:"result,omitempty"`
	Error  *ErrorBody         `json:"error,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var defs []domain.ToolDefinition
	if tools := s.currentTools(); tools != nil {
		defs = tools.Definitions()
	}
	if defs == nil {
		defs = []domain.ToolDefinition{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Tools: defs})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tools := s.currentTools()
	if tools == nil {
		writeJSON(w, http.StatusServiceUnavailable, CallResponse{Error: &ErrorBody{Kind: "unavailable", Message: "no tools configured"}})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, CallResponse{Error: &ErrorBody{Kind: "invalid_input", Message: err.Error()}})
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	start := time.Now()
	res, err := tools.Call(r.Context(), name, json.RawMessage(body))
	log := s.log().With("tool", name, "elapsed", time.Since(start))
	if err != nil {
		status, eb := classify(err)
		log.Warn("tool call failed", "status", status, "kind", eb.Kind, "error", err)
		writeJSON(w, status, CallResponse{Error: eb})
		return
	}
	log.Info("tool call completed", "artifacts", len(res.Artifacts))
	writeJSON(w, http.StatusOK, CallResponse{Result: res})
}

// jsonMarshal is used for every gateway response; tests may replace it to force Marshal errors.
// Access is protected by jsonMarshalMu for race-safe test swaps.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

func marshal(v any) ([]byte, error) {
	jsonMarshalMu.RLock()
	m := jsonMarshal
	jsonMarshalMu.RUnlock()
	return m(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
