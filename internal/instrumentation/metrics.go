package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrStatus    = "status"
	attrOperation = "operation"
	attrTool      = "tool"
	attrMode      = "mode"
	attrFolder    = "folder"
	attrChange    = "change"
	attrKind      = "kind"
	attrOutcome   = "outcome"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// Metrics records mailmirror metrics. The zero value and nil are no-ops.
type Metrics struct {
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	remoteOperationsTotal metric.Int64Counter
	remoteDuration        metric.Float64Histogram

	syncRunsTotal     metric.Int64Counter
	syncMessagesTotal metric.Int64Counter

	mutationsTotal metric.Int64Counter

	cachedMessages metric.Int64UpDownCounter
	evictionsTotal metric.Int64Counter

	detailedLabels bool
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}
	var err error

	if m.toolInvocationsTotal, err = meter.Int64Counter("mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	if m.remoteOperationsTotal, err = meter.Int64Counter("remote_mailbox_operations_total",
		metric.WithDescription("Total number of calls to the remote mailbox"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("failed to create remote_mailbox_operations_total counter: %w", err)
	}
	if m.remoteDuration, err = meter.Float64Histogram("remote_mailbox_operation_duration_seconds",
		metric.WithDescription("Remote mailbox call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create remote_mailbox_operation_duration_seconds histogram: %w", err)
	}

	if m.syncRunsTotal, err = meter.Int64Counter("mailbox_sync_runs_total",
		metric.WithDescription("Folder sync runs by mode and status"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create mailbox_sync_runs_total counter: %w", err)
	}
	if m.syncMessagesTotal, err = meter.Int64Counter("mailbox_sync_messages_total",
		metric.WithDescription("Messages added, updated or removed by sync"),
		metric.WithUnit("{message}")); err != nil {
		return nil, fmt.Errorf("failed to create mailbox_sync_messages_total counter: %w", err)
	}

	if m.mutationsTotal, err = meter.Int64Counter("mailbox_mutations_total",
		metric.WithDescription("Reconciled mutations by kind and outcome"),
		metric.WithUnit("{mutation}")); err != nil {
		return nil, fmt.Errorf("failed to create mailbox_mutations_total counter: %w", err)
	}

	if m.cachedMessages, err = meter.Int64UpDownCounter("mailbox_cached_messages",
		metric.WithDescription("Messages currently held in the local cache"),
		metric.WithUnit("{message}")); err != nil {
		return nil, fmt.Errorf("failed to create mailbox_cached_messages gauge: %w", err)
	}
	if m.evictionsTotal, err = meter.Int64Counter("mailbox_cache_evictions_total",
		metric.WithDescription("Messages evicted from the local cache"),
		metric.WithUnit("{message}")); err != nil {
		return nil, fmt.Errorf("failed to create mailbox_cache_evictions_total counter: %w", err)
	}

	return m, nil
}

// RecordToolInvocation records an MCP tool call.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	)
	m.toolInvocationsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRemoteOperation records one call to the remote mailbox.
func (m *Metrics) RecordRemoteOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil || m.remoteOperationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.remoteOperationsTotal.Add(ctx, 1, attrs)
	m.remoteDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSync records the outcome of one folder sync and its message deltas.
// The folder label is only attached with detailed labels enabled.
func (m *Metrics) RecordSync(ctx context.Context, folder, mode, status string, added, updated, removed int) {
	if m == nil || m.syncRunsTotal == nil {
		return
	}
	base := []attribute.KeyValue{attribute.String(attrMode, mode)}
	if m.detailedLabels {
		base = append(base, attribute.String(attrFolder, folder))
	}

	m.syncRunsTotal.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String(attrStatus, status))...))
	for change, n := range map[string]int{"added": added, "updated": updated, "removed": removed} {
		if n == 0 {
			continue
		}
		m.syncMessagesTotal.Add(ctx, int64(n), metric.WithAttributes(append(base, attribute.String(attrChange, change))...))
	}
}

// RecordMutation records how a reconciled mutation ended.
func (m *Metrics) RecordMutation(ctx context.Context, kind, outcome string) {
	if m == nil || m.mutationsTotal == nil {
		return
	}
	m.mutationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrOutcome, outcome),
	))
}

// AddCachedMessages adjusts the cached message gauge by delta.
func (m *Metrics) AddCachedMessages(ctx context.Context, delta int) {
	if m == nil || m.cachedMessages == nil || delta == 0 {
		return
	}
	m.cachedMessages.Add(ctx, int64(delta))
}

// RecordEvictions counts evicted messages.
func (m *Metrics) RecordEvictions(ctx context.Context, n int) {
	if m == nil || m.evictionsTotal == nil || n == 0 {
		return
	}
	m.evictionsTotal.Add(ctx, int64(n))
}

// StatusOf maps an error to a status label.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
