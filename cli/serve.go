package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ThunderHDs/taskmaster-sub001/config"
	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/mcp"
	"github.com/ThunderHDs/taskmaster-sub001/metrics"
	"github.com/ThunderHDs/taskmaster-sub001/middleware"
	"github.com/ThunderHDs/taskmaster-sub001/rpc"
	"github.com/ThunderHDs/taskmaster-sub001/ws"
)

func addServe(root *cobra.Command, a *app) {
	var qr bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task tree over HTTP, WebSocket and MCP",
		Example: `
taskmaster serve --port 8080
taskmaster serve --dev --qr
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), cmd.OutOrStdout(), qr)
		},
	}

	f := cmd.Flags()
	f.Int("port", 0, "listen port (default 8080)")
	f.Bool("dev", false, "dev mode: log to the console and allow an empty auth token")
	f.BoolVar(&qr, "qr", false, "print the connect URL as a QR code")
	_ = a.v.BindPFlag("port", f.Lookup("port"))
	_ = a.v.BindPFlag("dev_mode", f.Lookup("dev"))

	root.AddCommand(cmd)
}

func (a *app) serve(ctx context.Context, out io.Writer, qr bool) error {
	cfg := a.cfg
	if cfg.AuthToken == "" && !cfg.DevMode {
		return fmt.Errorf("%w: auth_token is required outside dev mode", config.ErrInvalidConfig)
	}

	var metricsHandler http.Handler
	if cfg.Metrics {
		h, err := metrics.InitMeterProvider(ctx, "taskmaster")
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		metricsHandler = h
	}

	session, closeSession, err := a.openSession(ctx, engine.WithExternalWatch())
	if err != nil {
		return err
	}
	defer closeSession()

	if metricsHandler != nil {
		if err := metrics.InitMetricsWithTaskCount(ctx, session.TaskCounts); err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	handler, stop := newHandler(cfg, session, metricsHandler)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "addr", srv.Addr, "backend", cfg.Backend, "dataDir", cfg.DataDir, "devMode", cfg.DevMode)
	url := connectURL(cfg.Port)
	fmt.Fprintf(out, "taskmaster %s listening on %s\n", Version, url)
	if qr {
		printQR(out, url)
	}

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	session.Wait()
	slog.Info("server stopped")
	return nil
}

// newHandler builds the HTTP routes. The returned func stops the
// websocket watchers.
func newHandler(cfg config.Config, session *engine.Session, metricsHandler http.Handler) (http.Handler, func()) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/tree", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rpc.TaskListResult{Tasks: session.Tree().Tasks()}); err != nil {
			slog.Error("failed to write tree", "error", err)
		}
	})

	rpcHandler := ws.NewRPCHandler(cfg.AuthToken, Version, cfg.DevMode, session)
	mux.Handle("GET /ws", rpcHandler)

	mux.Handle(mcp.EndpointPath, mcp.NewServer(session, Version).Handler())

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	handler := middleware.RequestLog(middleware.Auth(cfg.AuthToken)(mux))
	if metricsHandler != nil {
		handler = otelhttp.NewHandler(handler, "taskmaster")
	}
	return handler, rpcHandler.Stop
}

// connectURL guesses the address a device on the same network would use.
func connectURL(port int) string {
	host := "localhost"
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				host = ipnet.IP.String()
				break
			}
		}
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func printQR(out io.Writer, url string) {
	if !isTerminal(os.Stdout) {
		slog.Debug("stdout is not a terminal, skipping QR code")
		return
	}
	qrterminal.GenerateHalfBlock(url, qrterminal.L, out)
}
