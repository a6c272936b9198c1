package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/mailmirror/internal/logging"
)

// ToolInvocation is one audited MCP tool call.
type ToolInvocation struct {
	Tool string
	// Account is the mailbox user the call acted for. It is PII.
	Account string
	// Target is the message or folder id the call addressed, if any.
	Target string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts timing an invocation.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{Tool: tool, StartTime: time.Now()}
}

func (ti *ToolInvocation) WithAccount(account string) *ToolInvocation {
	ti.Account = account
	return ti
}

func (ti *ToolInvocation) WithTarget(target string) *ToolInvocation {
	ti.Target = target
	return ti
}

// WithSpanContext copies the trace and span id of ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID = GetTraceID(ctx)
	ti.SpanID = GetSpanID(ctx)
	return ti
}

// Complete stops timing and records the result.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation { return ti.Complete(false, err) }

func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation { return ti.Complete(true, nil) }

// Status returns the metric status label.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// attrs builds the log attributes; the account is hashed unless includePII.
func (ti *ToolInvocation) attrs(includePII bool) []any {
	out := []any{
		slog.String(logging.KeyTool, ti.Tool),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.Account != "" {
		if includePII {
			out = append(out, slog.String(logging.KeyAccount, ti.Account))
		} else {
			out = append(out, logging.UserHash(ti.Account), logging.Domain(ti.Account))
		}
	}
	if ti.Target != "" {
		out = append(out, slog.String("target", ti.Target))
	}
	if ti.TraceID != "" {
		out = append(out, slog.String("trace_id", ti.TraceID), slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		out = append(out, slog.String(logging.KeyError, ti.Error))
	}
	return out
}

// AuditLogger writes one structured line per tool invocation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLoggerWithConfig creates an audit logger; a nil logger means slog.Default.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger, includePII: config.IncludePII, enabled: config.Enabled}
}

// LogToolInvocation logs ti at info on success and warn on failure.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}
	if ti.Success {
		al.logger.Info("tool_executed", ti.attrs(al.includePII)...)
	} else {
		al.logger.Warn("tool_failed", ti.attrs(al.includePII)...)
	}
}
