// Package tooltest builds server contexts and calls tool handlers in
// tests.
package tooltest

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/analytics"
	"github.com/teemow/mailmirror/internal/engine"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
	"github.com/teemow/mailmirror/internal/mailbox/mailboxtest"
	"github.com/teemow/mailmirror/internal/query"
	"github.com/teemow/mailmirror/internal/sender"
	"github.com/teemow/mailmirror/internal/server"
)

// Self is the account address used by test contexts.
const Self = "me@example.com"

// Option adjusts the engine configuration of a test context.
type Option func(*engine.Config)

// WithoutAnalytics disables the analytics aggregator.
func WithoutAnalytics() Option {
	return func(c *engine.Config) { c.AnalyticsEnabled = false }
}

// Env is a server context over a fake remote.
type Env struct {
	Remote *mailboxtest.Remote
	Mailer *Mailer
	Logs   *logging.Buffer
	SC     *server.ServerContext
}

// New builds an Env around remote. The engine is not connected.
func New(t *testing.T, remote *mailboxtest.Remote, opts ...Option) *Env {
	t.Helper()
	logger, logs := logging.New(io.Discard, logging.Options{Debug: true, BufferSize: 100})

	cfg := engine.Config{
		Query:            query.DefaultLimits(),
		AnalyticsEnabled: true,
		Analytics: analytics.Config{
			WindowDays:    3650,
			SelfAddresses: []string{Self},
			SentFolders:   []string{"Sent"},
		},
		FetchTimeout: time.Second,
		WaitBudget:   time.Second,
		Logger:       logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	eng, err := engine.New(remote, cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Open(context.Background()))

	mailer := &Mailer{}
	sc, err := server.NewServerContext(context.Background(), server.Options{
		Engine:  eng,
		Mailer:  mailer,
		Logs:    logs,
		Account: Self,
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	return &Env{Remote: remote, Mailer: mailer, Logs: logs, SC: sc}
}

// Synced builds an Env, connects it and runs a full sync of all folders.
func Synced(t *testing.T, remote *mailboxtest.Remote, opts ...Option) *Env {
	t.Helper()
	env := New(t, remote, opts...)
	ctx := context.Background()
	require.NoError(t, env.SC.Engine().Connect(ctx))
	_, err := env.SC.Engine().SyncAll(ctx, mailbox.SyncFull)
	require.NoError(t, err)
	return env
}

// Call invokes handler with args.
func Call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// Text returns the text of the first content item.
func Text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok, "expected text content")
	return tc.Text
}

// Decode asserts a successful result and unmarshals its JSON into v.
func Decode(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	require.False(t, res.IsError, "unexpected tool error: %s", Text(t, res))
	require.NoError(t, json.Unmarshal([]byte(Text(t, res)), v))
}

// Mailer records outbound mail instead of sending it.
type Mailer struct {
	mu    sync.Mutex
	Sent  []sender.Email
	Tests []string
	Err   error
}

func (m *Mailer) Send(_ context.Context, e sender.Email) (*sender.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Sent = append(m.Sent, e)
	accepted := append(append(append([]string{}, e.To...), e.Cc...), e.Bcc...)
	return &sender.Result{MessageID: "sent@example.com", Accepted: accepted}, nil
}

func (m *Mailer) SendTest(_ context.Context, to, customMessage string) (*sender.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Tests = append(m.Tests, to+"|"+customMessage)
	return &sender.Result{MessageID: "test@example.com", Accepted: []string{to}}, nil
}
