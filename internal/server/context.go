package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/mailmirror/internal/engine"
	"github.com/teemow/mailmirror/internal/instrumentation"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/sender"
)

// closeTimeout bounds the final snapshot save on shutdown.
const closeTimeout = 30 * time.Second

// Mailer submits outbound mail. *sender.Sender implements it.
type Mailer interface {
	Send(ctx context.Context, e sender.Email) (*sender.Result, error)
	SendTest(ctx context.Context, to, customMessage string) (*sender.Result, error)
}

// Options holds the dependencies of a ServerContext.
type Options struct {
	Engine *engine.Engine
	// Mailer is optional; the send tools report an error without it.
	Mailer Mailer
	// Logs backs the get_logs tool. Optional.
	Logs *logging.Buffer
	// Account is the mailbox address, used for audit records.
	Account string
	Logger  *slog.Logger
}

// ServerContext holds the state shared by all MCP tool handlers.
type ServerContext struct {
	ctx     context.Context
	cancel  context.CancelFunc
	engine  *engine.Engine
	mailer  Mailer
	logs    *logging.Buffer
	account string
	logger  *slog.Logger

	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context.
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:     shutdownCtx,
		cancel:  cancel,
		engine:  opts.Engine,
		mailer:  opts.Mailer,
		logs:    opts.Logs,
		account: opts.Account,
		logger:  opts.Logger,
	}, nil
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Engine returns the mailbox engine.
func (sc *ServerContext) Engine() *engine.Engine {
	return sc.engine
}

// Mailer returns the outbound sender, or nil when none is configured.
func (sc *ServerContext) Mailer() Mailer {
	return sc.mailer
}

// Logs returns the in-memory log buffer, or nil.
func (sc *ServerContext) Logs() *logging.Buffer {
	return sc.logs
}

// Account returns the mailbox address the server operates on.
func (sc *ServerContext) Account() string {
	return sc.account
}

func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// SetMetrics sets the metrics recorder used by instrumented tool handlers.
func (sc *ServerContext) SetMetrics(m *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = m
}

// Metrics returns the metrics recorder, or nil when instrumentation is off.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetAuditLogger sets the tool audit logger.
func (sc *ServerContext) SetAuditLogger(al *instrumentation.AuditLogger) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.auditLogger = al
}

// AuditLogger returns the audit logger, or nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context, saves the cache snapshot and closes
// the remote session. Calling it again is a no-op.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	sc.mu.Unlock()

	sc.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := sc.engine.Close(ctx); err != nil {
		sc.logger.Warn("engine close failed", logging.Err(err))
		return err
	}
	return nil
}
