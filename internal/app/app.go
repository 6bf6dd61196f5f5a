// Package app assembles the collaborators shared by the API server and the
// CLI from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/albapepper/pricewise/internal/cache"
	"github.com/albapepper/pricewise/internal/config"
	"github.com/albapepper/pricewise/internal/notifications"
	"github.com/albapepper/pricewise/internal/reconcile"
	"github.com/albapepper/pricewise/internal/runlock"
	"github.com/albapepper/pricewise/internal/scraper"
	"github.com/albapepper/pricewise/internal/store"
)

const runLockGrace = time.Minute

// NewLogger returns a text logger for development and a JSON logger in
// production. DEBUG lowers the level to debug.
func NewLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
	}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// App holds the wired collaborators.
type App struct {
	Store      store.Store
	Fetcher    *scraper.Client
	Dispatcher *notifications.Dispatcher
	Runner     *reconcile.Runner
	Tracker    *reconcile.Tracker
	Cache      *cache.Cache

	closers []func() error
}

// New connects to storage and builds every collaborator. Close releases
// what New opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, func() error { st.Close(); return nil })

	a.Fetcher, err = scraper.NewClient(scraper.Config{
		RequestsPerMinute: cfg.ScraperRequestsPerMinute,
		Timeout:           cfg.ScraperTimeout,
		UserAgent:         cfg.ScraperUserAgent,
		ProxyURL:          cfg.ScraperProxyURL,
		AllowedHosts:      cfg.ScraperAllowedHosts,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create scraper: %w", err)
	}

	renderer, err := notifications.NewRenderer()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}
	mailer, err := notifications.NewMailSender(notifications.MailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create mail sender: %w", err)
	}
	// A nil *MailSender must not become a non-nil Sender interface.
	var sender notifications.Sender
	if mailer != nil {
		sender = mailer
		logger.Info("Email delivery enabled", "host", cfg.SMTPHost, "from", cfg.SMTPFrom)
	} else {
		logger.Info("Email delivery disabled (no SMTP_HOST)")
	}
	a.Dispatcher = notifications.NewDispatcher(renderer, sender, logger)

	locker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := locker.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.Cache = cache.New(cfg.CacheEnabled)
	a.Runner = reconcile.NewRunner(a.Fetcher, a.Store, a.Dispatcher, reconcile.Options{
		Workers: cfg.RunWorkers,
		Timeout: cfg.RunTimeout,
		Locker:  locker,
		OnComplete: func(*reconcile.Result) {
			a.Cache.Purge(cache.ProductPrefix)
		},
	}, logger)
	a.Tracker = reconcile.NewTracker(a.Fetcher, a.Store, a.Dispatcher, logger)

	return a, nil
}

// Close releases storage and the run lock client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (runlock.Locker, error) {
	if cfg.RedisURL == "" {
		logger.Info("Run lock: in-process")
		return runlock.NewLocal(), nil
	}
	// The lock outlives a run only when the holder crashes.
	l, err := runlock.NewRedis(ctx, cfg.RedisURL, cfg.RunTimeout+runLockGrace)
	if err != nil {
		return nil, fmt.Errorf("connect run lock: %w", err)
	}
	logger.Info("Run lock: redis", "key", runlock.DefaultKey)
	return l, nil
}
