package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Attribute keys.
const (
	KeyOperation = "operation"
	KeyComponent = "component"
	KeyAccount   = "account"
	KeyUserHash  = "user_hash"
	KeyTool      = "tool"
	KeyFolder    = "folder"
	KeyMessageID = "message_id"
	KeyMode      = "mode"
	KeyStatus    = "status"
	KeyDuration  = "duration"
	KeyError     = "error"
)

// Duplicated from instrumentation, which imports this package.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithComponent returns a logger tagged with a subsystem name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

func Tool(tool string) slog.Attr { return slog.String(KeyTool, tool) }

func Folder(folder string) slog.Attr { return slog.String(KeyFolder, folder) }

func MessageID(id string) slog.Attr { return slog.String(KeyMessageID, id) }

func Mode(mode string) slog.Attr { return slog.String(KeyMode, mode) }

func Status(status string) slog.Attr { return slog.String(KeyStatus, status) }

// Err returns the error attribute, or an empty group that slog drops when
// err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a stable hash of an address so log lines can be
// correlated without exposing it.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns the anonymized address attribute.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// SanitizeSecret masks a password or token, keeping only its length.
func SanitizeSecret(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[secret:%d chars]", len(secret))
}

// ExtractDomain returns the part after @, or "".
func ExtractDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return domain
}

// Domain returns the address domain attribute.
func Domain(email string) slog.Attr {
	return slog.String("user_domain", ExtractDomain(email))
}

// Options configures New.
type Options struct {
	Debug bool
	JSON  bool
	// BufferSize bounds the in-memory ring; zero uses DefaultBufferSize.
	BufferSize int
}

// New builds a logger writing to w and teeing into a Buffer, which it also
// returns.
func New(w io.Writer, opts Options) (*slog.Logger, *Buffer) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	if opts.JSON {
		inner = slog.NewJSONHandler(w, hopts)
	} else {
		inner = slog.NewTextHandler(w, hopts)
	}
	buf := NewBuffer(inner, opts.BufferSize)
	return slog.New(buf), buf
}
