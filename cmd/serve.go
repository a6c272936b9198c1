package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/mailmirror/internal/instrumentation"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/resources"
	"github.com/teemow/mailmirror/internal/sender"
	"github.com/teemow/mailmirror/internal/server"
	"github.com/teemow/mailmirror/internal/syncer"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"

	connectTimeout = 30 * time.Second
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

type serveOptions struct {
	configPath string
	debug      bool
	transport  string
	httpAddr   string
	readOnly   bool
	metrics    MetricsConfig
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server. It keeps a local cache of
the mailbox behind a Proton Mail Bridge (or any IMAP server), syncs it in the
background and answers listing, search and analytics tools from the cache.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport with health endpoints

Safety Mode:
  Use --read-only to register only tools that do not change or send mail.

Every flag left at its default falls back to an environment variable:
  MAILMIRROR_CONFIG, MAILMIRROR_TRANSPORT, MAILMIRROR_HTTP_ADDR,
  MAILMIRROR_READ_ONLY, METRICS_ENABLED and METRICS_ADDR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyServeEnv(cmd, &opts)
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to the YAML config file (default: ~/.config/mailmirror/config.yaml)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "Only register tools that do not modify or send mail")
	cmd.Flags().BoolVar(&opts.metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port (streamable-http only)")
	cmd.Flags().StringVar(&opts.metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address")

	return cmd
}

// applyServeEnv fills flags the user did not set from the environment.
func applyServeEnv(cmd *cobra.Command, opts *serveOptions) {
	envString(cmd, "config", "MAILMIRROR_CONFIG", &opts.configPath)
	envString(cmd, "transport", "MAILMIRROR_TRANSPORT", &opts.transport)
	envString(cmd, "http-addr", "MAILMIRROR_HTTP_ADDR", &opts.httpAddr)
	envBool(cmd, "read-only", "MAILMIRROR_READ_ONLY", &opts.readOnly)
	envBool(cmd, "metrics-enabled", "METRICS_ENABLED", &opts.metrics.Enabled)
	envString(cmd, "metrics-addr", "METRICS_ADDR", &opts.metrics.Addr)
}

func envString(cmd *cobra.Command, flag, env string, dst *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func envBool(cmd *cobra.Command, flag, env string, dst *bool) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v, err := strconv.ParseBool(os.Getenv(env)); err == nil {
		*dst = v
	}
}

func runServe(opts serveOptions) error {
	switch opts.transport {
	case transportStdio, transportStreamableHTTP:
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", opts.transport)
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
	}

	a, err := openApp(shutdownCtx, opts.configPath, opts.debug, metrics)
	if err != nil {
		return err
	}
	logger := a.logger

	var metricsServer *server.MetricsServer
	if opts.transport != transportStdio && opts.metrics.Enabled && provider.Enabled() && provider.UsesPrometheus() {
		metricsServer, err = startMetricsServer(opts.metrics.Addr, provider, logger)
		if err != nil {
			return err
		}
	}

	connectCtx, connectCancel := context.WithTimeout(shutdownCtx, connectTimeout)
	if err := a.engine.Connect(connectCtx); err != nil {
		logger.Warn("mailbox not reachable, serving the cached copy", logging.Err(err))
	}
	connectCancel()

	mailer := sender.New(sender.FromConfig(a.cfg, logger))
	go func() {
		ctx, cancel := context.WithTimeout(shutdownCtx, connectTimeout)
		defer cancel()
		if err := mailer.Verify(ctx); err != nil {
			logger.Warn("outbound mail check failed; send tools will report errors", logging.Err(err))
		}
	}()

	serverContext, err := server.NewServerContext(shutdownCtx, server.Options{
		Engine:  a.engine,
		Mailer:  mailer,
		Logs:    a.logs,
		Account: a.cfg.Username,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}

	if provider.Enabled() {
		serverContext.SetMetrics(provider.Metrics())
		serverContext.SetAuditLogger(instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging))
	}

	var schedulerDone sync.WaitGroup
	schedulerCtx, stopScheduler := context.WithCancel(shutdownCtx)
	if a.cfg.Sync.AutoSync {
		scheduler := a.engine.NewScheduler(syncer.SchedulerConfig{
			Interval:          a.cfg.Sync.Interval,
			BackoffInitial:    a.cfg.Sync.BackoffInitial,
			BackoffMax:        a.cfg.Sync.BackoffMax,
			BackoffMultiplier: a.cfg.Sync.BackoffMultiplier,
			Logger:            logger,
		})
		schedulerDone.Add(1)
		go func() {
			defer schedulerDone.Done()
			scheduler.Run(schedulerCtx)
		}()
		logger.Info("background sync enabled", slog.Duration("interval", a.cfg.Sync.Interval))
	}

	defer func() {
		stopScheduler()
		schedulerDone.Wait()
		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("metrics server shutdown failed", logging.Err(err))
			}
		}
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("server context shutdown failed", logging.Err(err))
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("mailmirror", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)

	if opts.readOnly {
		logger.Info("starting in read-only mode; tools that change or send mail are not registered")
	}
	if err := registerAllTools(mcpSrv, serverContext, opts.readOnly); err != nil {
		return err
	}
	if err := resources.RegisterMailboxResources(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register resources: %w", err)
	}

	switch opts.transport {
	case transportStreamableHTTP:
		return runStreamableHTTPServer(shutdownCtx, mcpSrv, serverContext, opts.httpAddr)
	default:
		return runStdioServer(mcpSrv)
	}
}

func startMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		Enabled:                 true,
		InstrumentationProvider: provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	metricsReady := make(chan struct{})
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-metricsReady:
		logger.Info("metrics server started", slog.String("addr", metricsServer.BoundAddr()))
		return metricsServer, nil
	case err := <-metricsErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("metrics server startup timed out")
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runStreamableHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, addr string) error {
	httpServer := server.NewHTTPServer(mcpSrv, sc)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		sc.Logger().Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
	}
	return nil
}
