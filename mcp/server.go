// Package mcp exposes the task session as Model Context Protocol tools so
// agents can read the tree, record work and undo it.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
)

// Transport selects how the MCP server is exposed.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

type Server struct {
	session *engine.Session
	version string
	mcp     *server.MCPServer
	tools   map[string]server.ServerTool
}

func NewServer(session *engine.Session, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{session: session, version: version}
	s.mcp = server.NewMCPServer(
		"taskmaster",
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Read and edit the task tree. Completing the last open child completes its parent; every edit can be undone."),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Handler returns the streamable HTTP transport for mounting on a mux.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// Run serves over the given transport until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context, transport Transport, addr string) error {
	switch transport {
	case "", TransportStdio:
		slog.Info("serving MCP over stdio")
		return server.ServeStdio(s.mcp)
	case TransportHTTP:
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown MCP transport %q", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	if addr == "" {
		addr = "127.0.0.1:8081"
	}
	mux := http.NewServeMux()
	mux.Handle(EndpointPath, s.Handler())
	httpSrv := &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("serving MCP over HTTP", "addr", ln.Addr().String(), "path", EndpointPath)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
