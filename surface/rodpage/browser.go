// Package rodpage implements surface.Surface over a live Chrome tab driven
// with go-rod. Every surface call is a single Runtime.evaluate round trip,
// so an Apply batch lands in one JavaScript task and the page never shows
// a half-applied state.
package rodpage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local one.
	RemoteURL string

	// Headful shows the browser window. Default: headless.
	Headful bool

	// Stealth opens tabs through go-rod/stealth.
	Stealth bool

	// BlockResources lists resource types not worth loading for a
	// dashboard driver: images, fonts, media, stylesheets.
	BlockResources []string

	// NavigateTimeout bounds Open. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns one Chrome connection.
type Browser struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// Launch starts (or connects to) Chrome.
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	wsURL := cfg.RemoteURL
	var l *launcher.Launcher
	if wsURL != "" {
		log.Info("rodpage: connecting to remote chrome", "url", wsURL)
	} else {
		l = launcher.New().Context(ctx).Headless(!cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodpage: launch: %w", err)
		}
		wsURL = u
		log.Info("rodpage: launched local chrome", "url", wsURL, "headful", cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return nil, fmt.Errorf("rodpage: connect: %w", err)
	}
	return &Browser{cfg: cfg, browser: b, lnch: l}, nil
}

// Open creates a tab, navigates to pageURL and waits for load.
func (b *Browser) Open(ctx context.Context, pageURL string) (*Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("rodpage: browser is closed")
	}
	rb := b.browser
	b.mu.Unlock()

	var page *rod.Page
	var err error
	if b.cfg.Stealth {
		page, err = stealth.Page(rb)
	} else {
		page, err = rb.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("rodpage: create tab: %w", err)
	}

	if len(b.cfg.BlockResources) > 0 {
		blockResources(page, b.cfg.BlockResources)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("rodpage: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("rodpage: wait load", "url", pageURL, "error", err)
	}
	return &Page{page: page, url: pageURL}, nil
}

// Close shuts the browser down. Safe to call twice.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	return err
}

// blockResources fails requests for the configured resource types.
func blockResources(page *rod.Page, types []string) {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[strings.ToLower(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(block, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

func shouldBlock(block map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return block["images"]
	case "font":
		return block["fonts"]
	case "media":
		return block["media"]
	case "stylesheet":
		return block["stylesheets"]
	default:
		return block[lower]
	}
}
