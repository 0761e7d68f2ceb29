// Package server exposes the orchestrator over HTTP and streams bus events
// to websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/anilymngl/codemind/pkg/events"
	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/prompts"
	"github.com/anilymngl/codemind/pkg/sandbox"
	"github.com/anilymngl/codemind/pkg/utils"
)

// Pipeline is the part of the orchestrator the server drives.
type Pipeline interface {
	ProcessQuery(ctx context.Context, query string, extra map[string]any) orchestrator.Result
	RunSandbox(ctx context.Context, code string) sandbox.ExecutionResult
	History(f orchestrator.HistoryFilter) []orchestrator.HistoryEntry
}

// ConnectionInfo stores metadata about a websocket connection.
type ConnectionInfo struct {
	SessionID   string
	ConnectedAt time.Time
}

type Server struct {
	pipeline        Pipeline
	bus             *events.Bus
	logger          *utils.Logger
	addr            string
	shutdownTimeout time.Duration

	upgrader    websocket.Upgrader
	connections sync.Map // map[*websocket.Conn]*ConnectionInfo

	mutex      sync.RWMutex
	startTime  time.Time
	queryCount int
}

// New builds a server. bus may be nil, in which case /ws only sends the
// connection status and pings.
func New(p Pipeline, bus *events.Bus, logger *utils.Logger, addr string, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		pipeline:        p,
		bus:             bus,
		logger:          logger,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: allowedOrigin,
		},
		startTime: time.Now(),
	}
}

// allowedOrigin accepts requests without an Origin header and browser
// requests from a loopback host. The host is compared exactly, so
// localhost.example.com does not pass.
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/run_sandbox", s.handleRunSandbox)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.LogProcessStep(prompts.ServerListening(ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		s.connections.Range(func(conn, _ any) bool {
			if c, ok := conn.(*websocket.Conn); ok {
				c.Close()
			}
			return true
		})
		err := srv.Shutdown(shutdownCtx)
		s.logger.LogProcessStep(prompts.ServerStopped())
		return err
	})
	return g.Wait()
}

func (s *Server) countConnections() int {
	count := 0
	s.connections.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
