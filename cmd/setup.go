package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/teemow/mailmirror/internal/analytics"
	"github.com/teemow/mailmirror/internal/bridge"
	"github.com/teemow/mailmirror/internal/cache"
	"github.com/teemow/mailmirror/internal/config"
	"github.com/teemow/mailmirror/internal/engine"
	"github.com/teemow/mailmirror/internal/instrumentation"
	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/query"
)

// app is the state shared by the commands that talk to the mailbox.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	logs   *logging.Buffer
	engine *engine.Engine
}

// loadConfig reads the configuration and fills the password from the
// keyring when neither the environment nor the file set it.
func loadConfig(path string, debug bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout belongs to the stdio transport.
func newLogger(cfg *config.Config) (*slog.Logger, *logging.Buffer) {
	logger, logs := logging.New(os.Stderr, logging.Options{Debug: cfg.Debug})
	slog.SetDefault(logger)
	return logger, logs
}

// openApp loads the configuration and opens the engine over the IMAP
// bridge. The engine is not connected yet.
func openApp(ctx context.Context, configPath string, debug bool, metrics *instrumentation.Metrics) (*app, error) {
	cfg, err := loadConfig(configPath, debug)
	if err != nil {
		return nil, err
	}
	logger, logs := newLogger(cfg)

	if cfg.Password == "" {
		ring, err := config.OpenKeyring(cfg.Keyring)
		if err != nil {
			logger.Warn("keyring unavailable", logging.Err(err))
		} else if err := cfg.ResolvePassword(ring); err != nil {
			logger.Warn("password lookup failed", logging.Err(err))
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if dir := filepath.Dir(cfg.Cache.SnapshotPath); cfg.Cache.SnapshotPath != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	remote := bridge.New(bridge.FromConfig(ctx, cfg, logger))
	eng, err := engine.New(remote, engineConfig(cfg, logger, metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := eng.Open(ctx); err != nil {
		// A broken snapshot is not fatal; the next sync refills the cache.
		logger.Warn("starting with an empty cache", logging.Err(err))
	}

	logger.Info("configuration loaded",
		logging.UserHash(cfg.Username),
		slog.String("imap", cfg.IMAPAddr()),
		slog.String("smtp", cfg.SMTPAddr()),
		slog.String("snapshot", cfg.Cache.SnapshotPath))

	return &app{cfg: cfg, logger: logger, logs: logs, engine: eng}, nil
}

func engineConfig(cfg *config.Config, logger *slog.Logger, metrics *instrumentation.Metrics) engine.Config {
	self := []string{cfg.Username}
	if cfg.SMTP.From != "" && cfg.SMTP.From != cfg.Username {
		self = append(self, cfg.SMTP.From)
	}
	return engine.Config{
		Cache: cache.Limits{
			MaxMessages: cfg.Cache.MaxMessages,
			MaxBytes:    cfg.Cache.MaxBytes,
		},
		Query: query.Limits{
			Default: cfg.Query.DefaultLimit,
			Max:     cfg.Query.MaxLimit,
		},
		AnalyticsEnabled: cfg.Analytics.Enabled,
		Analytics: analytics.Config{
			WindowDays:    cfg.Analytics.WindowDays,
			SelfAddresses: self,
			SentFolders:   cfg.Analytics.SentFolders,
		},
		FetchTimeout: cfg.Sync.FetchTimeout,
		WaitBudget:   cfg.Mutation.WaitBudget,
		SnapshotPath: cfg.Cache.SnapshotPath,
		Logger:       logger,
		Metrics:      metrics,
	}
}
