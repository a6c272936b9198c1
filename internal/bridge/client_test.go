package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailmirror/internal/config"
	"github.com/teemow/mailmirror/internal/mailbox"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want mailbox.Kind
	}{
		{"no response", &imap.Error{Type: imap.StatusResponseTypeNo, Text: "mailbox does not exist"}, mailbox.KindRemoteRejected},
		{"bad response", fmt.Errorf("wrapped: %w", &imap.Error{Type: imap.StatusResponseTypeBad, Text: "syntax"}), mailbox.KindRemoteRejected},
		{"io failure", io.ErrUnexpectedEOF, mailbox.KindRemoteUnavailable},
		{"timeout", context.DeadlineExceeded, mailbox.KindRemoteUnavailable},
		{"typed", mailbox.E(mailbox.KindNotFound, "fetch", "x", nil), mailbox.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", "id", tt.err)
			assert.Equal(t, tt.want, mailbox.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, classify("op", "", nil))
}

func TestClient_Disconnected(t *testing.T) {
	c := New(Config{Host: "localhost", Port: 1143, Logger: quietLogger()})
	ctx := context.Background()

	_, err := c.ListFolders(ctx)
	assert.ErrorIs(t, err, mailbox.ErrRemoteUnavailable)

	_, err = c.FetchRange(ctx, "INBOX", "")
	assert.ErrorIs(t, err, mailbox.ErrRemoteUnavailable)

	_, err = c.FetchByID(ctx, "INBOX:1:1")
	assert.ErrorIs(t, err, mailbox.ErrRemoteUnavailable, "synthetic ids resolve without the index")

	_, err = c.FetchByID(ctx, "unknown@example.com")
	assert.ErrorIs(t, err, mailbox.ErrNotFound)

	err = c.Move(ctx, "unknown@example.com", "Archive")
	assert.ErrorIs(t, err, mailbox.ErrNotFound)

	err = c.SetFlag(ctx, "INBOX:1:1", mailbox.Flag("pinned"), true)
	assert.ErrorIs(t, err, mailbox.ErrInvalidInput)

	assert.NoError(t, c.Disconnect())
}

func TestClient_MoveWithinFolderIsNoop(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	c.index["m@example.com"] = location{folder: "INBOX", uidValidity: 1, uid: 3}

	assert.NoError(t, c.Move(context.Background(), "m@example.com", "INBOX"))
}

func TestClient_ConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	c := New(Config{Host: "127.0.0.1", Port: addr.Port, DialTimeout: time.Second, Logger: quietLogger()})
	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, mailbox.ErrRemoteUnavailable)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Username: "me@proton.me",
		Password: "secret",
		IMAP: config.IMAPConfig{
			Host:           "bridge.local",
			Port:           1143,
			Security:       config.SecurityStartTLS,
			ExcludeFolders: []string{"All Mail"},
			RateLimit:      5,
			RateBurst:      2,
		},
		Sync: config.SyncConfig{FetchTimeout: 15 * time.Second},
	}

	c := FromConfig(context.Background(), cfg, quietLogger())
	assert.Equal(t, "bridge.local", c.Host)
	assert.Equal(t, config.SecurityStartTLS, c.Security)
	assert.Equal(t, 15*time.Second, c.DialTimeout)
	assert.Nil(t, c.TokenSource)

	cfg.IMAP.OAuth = config.OAuthConfig{TokenURL: "https://auth.example.com/token", RefreshToken: "r1"}
	c = FromConfig(context.Background(), cfg, quietLogger())
	assert.NotNil(t, c.TokenSource)
}
