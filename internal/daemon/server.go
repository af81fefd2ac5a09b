// Package daemon serves the streaming engine over HTTP: one SSE chat endpoint
// plus health, behind a startup-generated bearer token.
package daemon

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fernlabs/streamd/internal/domain"
	"github.com/fernlabs/streamd/internal/engine"
	"github.com/fernlabs/streamd/internal/provider"
)

// Version is reported by the health endpoint.
const Version = "1.0"

// ChatRunner executes one chat session, emitting events until the terminal
// one. The engine satisfies this.
type ChatRunner interface {
	Run(ctx context.Context, req engine.Request, emit engine.EmitFunc) error
}

// Server is the HTTP daemon wrapping the engine.
type Server struct {
	engine ChatRunner
	log    zerolog.Logger

	// MCPStatus, when set, reports per-server external tool connection
	// states through the health endpoint.
	MCPStatus func() map[string]string

	port   int
	ready  chan struct{} // closed once port is assigned in Start()
	server *http.Server
	token  string
}

// NewServer creates a new daemon server.
func NewServer(eng ChatRunner, log zerolog.Logger) *Server {
	return &Server{
		engine: eng,
		log:    log,
		ready:  make(chan struct{}),
		token:  generateAuthToken(),
	}
}

func generateAuthToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Extremely unlikely; empty token means auth check will reject requests.
		return ""
	}
	return hex.EncodeToString(b[:])
}

// AuthToken returns the daemon auth token for trusted in-process callers.
func (s *Server) AuthToken() string {
	return s.token
}

// Start begins listening on the given port. If the port is taken, falls back
// to an OS-assigned port. Blocks until the server shuts down.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		// Port in use -- let OS assign
		ln, err = net.Listen("tcp", "localhost:0")
		if err != nil {
			return fmt.Errorf("listening: %w", err)
		}
	}
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.log.Info().Int("port", s.port).Str("token", s.token).Msg("daemon listening")
	close(s.ready) // signal that port is assigned

	if err := WriteLockfile(s.port, s.token); err != nil {
		ln.Close()
		return fmt.Errorf("writing lockfile: %w", err)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{Handler: mux}
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and removes the lockfile.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if rmErr := RemoveLockfile(); rmErr != nil {
		s.log.Warn().Err(rmErr).Msg("removing lockfile")
	}
	return err
}

// Port returns the actual listening port. Blocks until Start() has bound the
// listener and assigned the port.
func (s *Server) Port() int {
	<-s.ready
	return s.port
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat", s.withAuth(s.handleChat))
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get("Authorization"))
		const bearer = "Bearer "
		if strings.HasPrefix(got, bearer) {
			got = strings.TrimSpace(strings.TrimPrefix(got, bearer))
		}
		// Constant-time compare to avoid token oracle behavior.
		if got == "" || s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": Version,
	}
	if s.MCPStatus != nil {
		if statuses := s.MCPStatus(); len(statuses) > 0 {
			resp["mcpServers"] = statuses
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChat runs one session as an SSE stream: one data line per event, then
// the [DONE] sentinel.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	// Feature headers go out before the first event byte.
	modelID := req.ModelID
	if _, resolved, err := provider.Resolve(req.ModelID); err == nil {
		modelID = resolved
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Model-Id", modelID)
	h.Set("X-Features", fmt.Sprintf("thinking=%t,tools=%t", req.Options.EnableThinking, req.Options.EnableTools))
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(ev domain.StreamEvent) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.engine.Run(r.Context(), req, emit); err != nil {
		// Client disconnected mid-stream; nothing left to write.
		s.log.Debug().Err(err).Msg("chat stream aborted")
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers already sent; nothing to do.
		_ = err
	}
}
