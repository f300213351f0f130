// Package console wires the section controller, the theme preference, the
// activation journal and the loader webhooks behind one set of endpoints,
// exposed over HTTP (chi) and MCP.
//
// Usage:
//
//	c, err := console.Build(ctx, cfg, surf, db, logger)
//	defer c.Close()
//	http.ListenAndServe(cfg.HTTP.Addr, c.Routes())
//	c.RegisterMCP(mcpServer)
package console

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/dashctl/config"
	"github.com/hazyhaar/dashctl/journal"
	"github.com/hazyhaar/dashctl/section"
	"github.com/hazyhaar/dashctl/surface"
	"github.com/hazyhaar/dashctl/theme"
)

// ErrJournalDisabled is returned by the journal endpoint when no journal
// is configured.
var ErrJournalDisabled = errors.New("console: journal disabled")

// Console is the dashctl orchestrator.
type Console struct {
	ctrl     *section.Controller
	pref     *theme.Preference
	journal  *journal.Journal
	webhooks []*Webhook
	persist  func() error
	origins  []string
	logger   *slog.Logger
}

// Option configures a Console.
type Option func(*Console)

// WithJournal exposes j through the journal endpoint. The caller wires
// j.Observe into the controller.
func WithJournal(j *journal.Journal) Option {
	return func(c *Console) { c.journal = j }
}

// WithPersist runs fn after every successful mutation, e.g. to write an
// in-memory document back to disk. Failures are logged.
func WithPersist(fn func() error) Option {
	return func(c *Console) { c.persist = fn }
}

// WithCORS allows browser calls to the HTTP API from origins.
func WithCORS(origins ...string) Option {
	return func(c *Console) { c.origins = origins }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Console) { c.logger = l }
}

// New creates a Console over already-built components.
func New(ctrl *section.Controller, pref *theme.Preference, opts ...Option) *Console {
	c := &Console{ctrl: ctrl, pref: pref, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Build assembles a Console from configuration: sections from the file and
// the sections table, the journal, loader webhooks, the stored theme, and
// the initial section.
func Build(ctx context.Context, cfg *config.Config, surf surface.Surface, db *sql.DB, logger *slog.Logger) (*Console, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.ExecContext(ctx, config.Schema); err != nil {
		return nil, fmt.Errorf("console: sections schema: %w", err)
	}
	extra, err := config.LoadSections(ctx, db)
	if err != nil {
		return nil, err
	}
	sections := config.MergeSections(cfg.Sections, extra)

	ctrlOpts := []section.Option{section.WithLogger(logger)}
	var j *journal.Journal
	if !cfg.Journal.Disabled {
		j, err = journal.Open(ctx, db, cfg.Journal.Buffer, journal.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		ctrlOpts = append(ctrlOpts, section.WithObserver(j.Observe))
	}
	ctrl := section.New(surf, sections, ctrlOpts...)

	store, err := theme.NewSQLStore(ctx, db)
	if err != nil {
		if j != nil {
			j.Close()
		}
		return nil, err
	}
	pref := theme.New(store, surf, theme.WithAttribute(cfg.Theme.Attribute), theme.WithLogger(logger))

	c := New(ctrl, pref, WithJournal(j), WithCORS(cfg.HTTP.CORSOrigins...), WithLogger(logger))
	for _, h := range cfg.Hooks {
		w := NewWebhook(h.URL,
			WithWebhookRetries(h.MaxRetries),
			WithWebhookTimeout(h.Timeout),
			WithWebhookLogger(logger),
		)
		ctrl.RegisterPostActivationHook(h.Section, w.Hook())
		c.webhooks = append(c.webhooks, w)
	}

	if t, err := pref.Apply(ctx); err != nil {
		logger.Warn("console: apply stored theme", "error", err)
	} else {
		logger.Debug("console: theme applied", "theme", t)
	}
	if cfg.Initial != "" {
		if _, err := ctrl.Show(ctx, cfg.Initial); err != nil {
			c.Close()
			return nil, fmt.Errorf("console: initial section: %w", err)
		}
	}
	return c, nil
}

// SetPersist installs the post-mutation callback after construction.
func (c *Console) SetPersist(fn func() error) { c.persist = fn }

// Controller returns the section controller.
func (c *Console) Controller() *section.Controller { return c.ctrl }

// Preference returns the theme preference.
func (c *Console) Preference() *theme.Preference { return c.pref }

// Close stops the webhooks and flushes the journal. The database is the
// caller's.
func (c *Console) Close() error {
	for _, w := range c.webhooks {
		w.Close()
	}
	if c.journal != nil {
		return c.journal.Close()
	}
	return nil
}

func (c *Console) afterChange() {
	if c.persist == nil {
		return
	}
	if err := c.persist(); err != nil {
		c.logger.Error("console: persist", "error", err)
	}
}
