// Package sender delivers outbound mail over SMTP.
package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/teemow/mailmirror/internal/config"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// Priority values accepted by Email.Priority.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Config configures a Sender.
type Config struct {
	Host          string
	Port          int
	Security      config.Security
	SkipTLSVerify bool
	Username      string
	Password      string
	// From is the envelope and header sender; defaults to Username.
	From    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// FromConfig derives the sender configuration from the application config.
func FromConfig(cfg *config.Config, logger *slog.Logger) Config {
	return Config{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		Security:      cfg.SMTP.Security,
		SkipTLSVerify: cfg.SMTP.SkipTLSVerify,
		Username:      cfg.Username,
		Password:      cfg.Password,
		From:          cfg.SMTP.From,
		Timeout:       cfg.SMTP.Timeout,
		Logger:        logger,
	}
}

// Attachment is an outbound file with base64 encoded content.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content"`
}

// Email is an outbound message.
type Email struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	IsHTML      bool
	Priority    string
	ReplyTo     string
	Attachments []Attachment
}

// Result reports a delivered message.
type Result struct {
	MessageID string   `json:"messageId"`
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected,omitempty"`
}

// Sender submits mail to one SMTP server.
type Sender struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Sender.
func New(cfg Config) *Sender {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Sender{
		cfg:    cfg,
		logger: logging.WithComponent(cfg.Logger, "smtp"),
		now:    time.Now,
	}
}

func (s *Sender) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ParseAddressList splits a comma separated list of addresses and returns
// the bare addresses.
func ParseAddressList(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	parsed, err := mail.ParseAddressList(list)
	if err != nil {
		return nil, fmt.Errorf("invalid address list %q: %w", list, err)
	}
	out := make([]string, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, a.Address)
	}
	return out, nil
}

func (e *Email) validate() error {
	if len(e.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	if strings.TrimSpace(e.Subject) == "" {
		return errors.New("subject is required")
	}
	switch e.Priority {
	case "", PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return fmt.Errorf("unknown priority %q", e.Priority)
	}
	for _, a := range e.Attachments {
		if a.Filename == "" {
			return errors.New("attachment filename is required")
		}
	}
	return nil
}

// Send composes and submits e. Recipients the server refuses are listed in
// Result.Rejected; Send fails only when none is accepted.
func (s *Sender) Send(ctx context.Context, e Email) (*Result, error) {
	if err := e.validate(); err != nil {
		return nil, mailbox.E(mailbox.KindInvalidInput, "send", "", err)
	}

	var buf bytes.Buffer
	messageID, err := s.compose(&buf, e)
	if err != nil {
		return nil, mailbox.E(mailbox.KindInvalidInput, "send", "", fmt.Errorf("composing message: %w", err))
	}

	res := &Result{MessageID: messageID}
	err = s.session(ctx, func(c *smtp.Client) error {
		if err := c.Mail(s.cfg.From, nil); err != nil {
			return fmt.Errorf("MAIL FROM: %w", err)
		}
		for _, rcpt := range recipients(e) {
			if err := c.Rcpt(rcpt, nil); err != nil {
				s.logger.Warn("recipient rejected", logging.Domain(rcpt), logging.Err(err))
				res.Rejected = append(res.Rejected, rcpt)
				continue
			}
			res.Accepted = append(res.Accepted, rcpt)
		}
		if len(res.Accepted) == 0 {
			return mailbox.Errorf(mailbox.KindRemoteRejected, "send", "", "all recipients were rejected")
		}

		w, err := c.Data()
		if err != nil {
			return fmt.Errorf("DATA: %w", err)
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			_ = w.Close()
			return fmt.Errorf("writing message: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finishing message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mailbox.AsRemote("send", "", err)
	}

	s.logger.Info("email sent",
		slog.Int("recipients", len(res.Accepted)),
		slog.Int("attachments", len(e.Attachments)))
	return res, nil
}

// SendTest sends a short diagnostic message to to.
func (s *Sender) SendTest(ctx context.Context, to, customMessage string) (*Result, error) {
	body := customMessage
	if body == "" {
		body = "This is a test email from mailmirror. If you can read it, outbound delivery works."
	}
	body += "\n\nSent at " + s.now().UTC().Format(time.RFC1123Z)

	return s.Send(ctx, Email{
		To:      []string{to},
		Subject: "mailmirror test email",
		Body:    body,
	})
}

// Verify connects and authenticates without sending anything.
func (s *Sender) Verify(ctx context.Context) error {
	return mailbox.AsRemote("verify", "", s.session(ctx, func(c *smtp.Client) error { return c.Noop() }))
}

func recipients(e Email) []string {
	all := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	seen := make(map[string]struct{})
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, r := range list {
			key := strings.ToLower(r)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, r)
		}
	}
	return all
}

// session dials, secures and authenticates a connection, runs fn and quits.
func (s *Sender) session(ctx context.Context, fn func(c *smtp.Client) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.SkipTLSVerify,
	}
	dialer := &net.Dialer{}

	var conn net.Conn
	var err error
	if s.cfg.Security == config.SecurityTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", s.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.addr())
	}
	if err != nil {
		return fmt.Errorf("connecting to SMTP %s: %w", s.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var c *smtp.Client
	if s.cfg.Security == config.SecurityStartTLS {
		if c, err = smtp.NewClientStartTLS(conn, tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS with %s: %w", s.addr(), err)
		}
	} else {
		c = smtp.NewClient(conn)
	}
	defer c.Close()
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
				return fmt.Errorf("SMTP authentication failed: %w", err)
			}
		}
	}

	if err := fn(c); err != nil {
		return err
	}
	return c.Quit()
}

// compose writes e as an RFC 5322 message and returns its Message-ID.
func (s *Sender) compose(w *bytes.Buffer, e Email) (string, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetSubject(e.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: s.cfg.From}})
	h.SetAddressList("To", toAddresses(e.To))
	if len(e.Cc) > 0 {
		h.SetAddressList("Cc", toAddresses(e.Cc))
	}
	if e.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: e.ReplyTo}})
	}
	switch e.Priority {
	case PriorityHigh:
		h.Set("X-Priority", "1 (Highest)")
		h.Set("Importance", "high")
	case PriorityLow:
		h.Set("X-Priority", "5 (Lowest)")
		h.Set("Importance", "low")
	}
	if err := h.GenerateMessageID(); err != nil {
		return "", err
	}
	messageID, err := h.MessageID()
	if err != nil {
		return "", err
	}

	contentType := "text/plain"
	if e.IsHTML {
		contentType = "text/html"
	}

	if len(e.Attachments) == 0 {
		h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		bw, err := mail.CreateSingleInlineWriter(w, h)
		if err != nil {
			return "", err
		}
		if _, err := bw.Write([]byte(e.Body)); err != nil {
			return "", err
		}
		return messageID, bw.Close()
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return "", err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return "", err
	}
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ih.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := iw.CreatePart(ih)
	if err != nil {
		return "", err
	}
	if _, err := pw.Write([]byte(e.Body)); err != nil {
		return "", err
	}
	if err := pw.Close(); err != nil {
		return "", err
	}
	if err := iw.Close(); err != nil {
		return "", err
	}

	for _, a := range e.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return "", fmt.Errorf("attachment %s: invalid base64 content: %w", a.Filename, err)
		}
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		var ah mail.AttachmentHeader
		ah.SetFilename(a.Filename)
		ah.SetContentType(ct, nil)
		ah.Set("Content-Transfer-Encoding", "base64")
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return "", err
		}
		if _, err := aw.Write(data); err != nil {
			return "", err
		}
		if err := aw.Close(); err != nil {
			return "", err
		}
	}
	return messageID, mw.Close()
}

func toAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
