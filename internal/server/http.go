package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// MCPEndpoint is the path of the streamable HTTP transport.
const MCPEndpoint = "/mcp"

// HTTPServer serves the MCP streamable HTTP transport and the health
// endpoints on one listener.
type HTTPServer struct {
	mcpServer *mcpserver.MCPServer
	health    *HealthChecker
	logger    *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	boundAddr  string
}

// NewHTTPServer wraps mcpServer. Health reporting reads sc.
func NewHTTPServer(mcpServer *mcpserver.MCPServer, sc *ServerContext) *HTTPServer {
	return &HTTPServer{
		mcpServer: mcpServer,
		health:    NewHealthChecker(sc),
		logger:    sc.Logger(),
	}
}

// Health returns the health checker, e.g. to flip readiness during
// shutdown.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Handler returns the routing mux.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(MCPEndpoint, mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(MCPEndpoint),
	))
	s.health.RegisterHealthEndpoints(mux)
	return mux
}

// Start listens on addr and serves until Shutdown.
func (s *HTTPServer) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.boundAddr = l.Addr().String()
	s.mu.Unlock()

	s.logger.Info("streamable HTTP server listening", "addr", s.boundAddr, "endpoint", MCPEndpoint)
	return srv.Serve(l)
}

// BoundAddr returns the listen address once started.
func (s *HTTPServer) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Shutdown marks the server unready and drains connections.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
