package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/teemow/mailmirror/internal/config"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// Config configures a Client.
type Config struct {
	Host          string
	Port          int
	Security      config.Security
	SkipTLSVerify bool
	Username      string
	Password      string
	// TokenSource switches login to SASL OAUTHBEARER.
	TokenSource    oauth2.TokenSource
	ExcludeFolders []string
	// RateLimit is commands per second; zero means unlimited.
	RateLimit   float64
	RateBurst   int
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// FromConfig derives the client configuration from the application config.
// A configured OAuth refresh token switches login to OAUTHBEARER.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) Config {
	c := Config{
		Host:           cfg.IMAP.Host,
		Port:           cfg.IMAP.Port,
		Security:       cfg.IMAP.Security,
		SkipTLSVerify:  cfg.IMAP.SkipTLSVerify,
		Username:       cfg.Username,
		Password:       cfg.Password,
		ExcludeFolders: cfg.IMAP.ExcludeFolders,
		RateLimit:      cfg.IMAP.RateLimit,
		RateBurst:      cfg.IMAP.RateBurst,
		DialTimeout:    cfg.Sync.FetchTimeout,
		Logger:         logger,
	}
	if o := cfg.IMAP.OAuth; o.Enabled() {
		oc := &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.TokenURL},
		}
		c.TokenSource = oc.TokenSource(ctx, &oauth2.Token{RefreshToken: o.RefreshToken})
	}
	return c
}

// Client is a mailbox.RemoteClient backed by one IMAP session.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	conn     *imapclient.Client
	selected string
	validity uint32
	index    index
}

var _ mailbox.RemoteClient = (*Client)(nil)

// New creates a disconnected client.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.Security == "" {
		cfg.Security = config.SecurityNone
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.WithComponent(cfg.Logger, "imap"),
		index:   make(index),
	}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Connect opens a new session, replacing any existing one.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()

	conn, err := c.dial(ctx)
	if err != nil {
		return mailbox.E(mailbox.KindRemoteUnavailable, "connect", "", err)
	}
	if err := run(ctx, conn, func() error { return c.authenticate(conn) }); err != nil {
		_ = conn.Close()
		return mailbox.E(mailbox.KindRemoteUnavailable, "connect", "", fmt.Errorf("authentication failed: %w", err))
	}

	c.conn = conn
	c.logger.Info("imap session established",
		slog.String("addr", c.addr()),
		slog.String("security", string(c.cfg.Security)),
		logging.UserHash(c.cfg.Username))
	return nil
}

func (c *Client) dial(ctx context.Context) (*imapclient.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	tlsConfig := &tls.Config{
		ServerName:         c.cfg.Host,
		InsecureSkipVerify: c.cfg.SkipTLSVerify,
	}
	opts := &imapclient.Options{TLSConfig: tlsConfig}
	dialer := &net.Dialer{}

	switch c.cfg.Security {
	case config.SecurityTLS:
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		raw, err := td.DialContext(dctx, "tcp", c.addr())
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", c.addr(), err)
		}
		return imapclient.New(raw, opts), nil
	case config.SecurityStartTLS:
		raw, err := dialer.DialContext(dctx, "tcp", c.addr())
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", c.addr(), err)
		}
		conn, err := imapclient.NewStartTLS(raw, opts)
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("starting TLS with %s: %w", c.addr(), err)
		}
		return conn, nil
	default:
		raw, err := dialer.DialContext(dctx, "tcp", c.addr())
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", c.addr(), err)
		}
		return imapclient.New(raw, opts), nil
	}
}

func (c *Client) authenticate(conn *imapclient.Client) error {
	if c.cfg.TokenSource == nil {
		return conn.Login(c.cfg.Username, c.cfg.Password).Wait()
	}
	tok, err := c.cfg.TokenSource.Token()
	if err != nil {
		return fmt.Errorf("refreshing oauth token: %w", err)
	}
	return conn.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.cfg.Username,
		Token:    tok.AccessToken,
		Host:     c.cfg.Host,
		Port:     c.cfg.Port,
	}))
}

// Disconnect logs out and closes the session. It is a no-op when there is
// no session.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.selected = ""

	err := conn.Logout().Wait()
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		c.logger.Debug("imap logout failed", logging.Err(err))
	}
	return nil
}

// dropLocked discards the current session without logging out.
func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.selected = ""
}

// run waits for fn, closing conn when ctx ends first so that the pending
// command returns.
func run(ctx context.Context, conn *imapclient.Client, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return ctx.Err()
	}
}

// do runs fn against the live session. It must be called with c.mu held.
// Transport failures drop the session; server NO/BAD replies keep it.
func (c *Client) do(ctx context.Context, op, id string, fn func(conn *imapclient.Client) error) error {
	if c.conn == nil {
		return mailbox.Errorf(mailbox.KindRemoteUnavailable, op, id, "not connected")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return mailbox.E(mailbox.KindRemoteUnavailable, op, id, err)
	}

	conn := c.conn
	err := run(ctx, conn, func() error { return fn(conn) })
	if err == nil {
		return nil
	}
	err = classify(op, id, err)
	if mailbox.KindOf(err) == mailbox.KindRemoteUnavailable {
		c.logger.Warn("imap session lost", logging.Operation(op), logging.Err(err))
		c.dropLocked()
	}
	return err
}

// selectFolder makes folder the selected mailbox, reusing the current
// selection when possible.
func (c *Client) selectFolder(conn *imapclient.Client, folder string, force bool) (*imap.SelectData, error) {
	if !force && c.selected == folder {
		return &imap.SelectData{UIDValidity: c.validity}, nil
	}
	data, err := conn.Select(folder, nil).Wait()
	if err != nil {
		c.selected = ""
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}
	c.selected = folder
	c.validity = data.UIDValidity
	return data, nil
}

// classify maps an IMAP error onto a mailbox error kind.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var merr *mailbox.Error
	if errors.As(err, &merr) {
		return err
	}
	var ierr *imap.Error
	if errors.As(err, &ierr) {
		switch ierr.Type {
		case imap.StatusResponseTypeNo, imap.StatusResponseTypeBad:
			return mailbox.E(mailbox.KindRemoteRejected, op, id, err)
		}
	}
	return mailbox.E(mailbox.KindRemoteUnavailable, op, id, err)
}
