// Command dashctl drives the visibility of dashboard sections and the
// theme preference on an HTML file or a live Chrome tab.
//
// Usage:
//
//	dashctl -config dashctl.yaml serve            # HTTP API
//	dashctl -config dashctl.yaml mcp              # MCP over stdio
//	dashctl -config dashctl.yaml show logs        # one-shot activation
//	dashctl -config dashctl.yaml diagnose [id]
//	dashctl -config dashctl.yaml theme [get|set dark|toggle]
//	dashctl -config dashctl.yaml dbcheck
//
// With the html surface, -out writes the mutated document back.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dashctl/config"
	"github.com/hazyhaar/dashctl/console"
	"github.com/hazyhaar/dashctl/dbcheck"
	"github.com/hazyhaar/dashctl/dbopen"
	"github.com/hazyhaar/dashctl/kit"
	"github.com/hazyhaar/dashctl/surface"
	"github.com/hazyhaar/dashctl/surface/htmldoc"
	"github.com/hazyhaar/dashctl/surface/rodpage"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", env("DASHCTL_CONFIG", "dashctl.yaml"), "path to dashctl.yaml")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	out := flag.String("out", "", "html surface: write the mutated document to this path")
	addr := flag.String("addr", env("DASHCTL_ADDR", ""), "serve: listen address (overrides http.addr)")
	dbPath := flag.String("db", env("DASHCTL_DB", ""), "state database (overrides database)")
	busyTimeout := flag.Duration("db-busy-timeout", 0, "SQLite busy timeout (overrides sqlite.busy_timeout)")
	flag.Usage = usage
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Error("dashctl: load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}
	if *busyTimeout > 0 {
		cfg.SQLite.BusyTimeout = *busyTimeout
	}

	if err := run(ctx, logger, cfg, *out, args); err != nil {
		logger.Error("dashctl: fatal", "mode", args[0], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dashctl [flags] serve | mcp | show <id> | diagnose [id] | theme [get|set <light|dark>|toggle] | dbcheck")
	flag.PrintDefaults()
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, out string, args []string) error {
	db, err := dbopen.Open(cfg.Database, append(cfg.DBOptions(), dbopen.WithMkdirAll())...)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if args[0] == "dbcheck" {
		return runDBCheck(ctx, logger, db)
	}

	surf, persist, closeSurface, err := openSurface(ctx, logger, cfg, out)
	if err != nil {
		return err
	}
	defer closeSurface()

	long := args[0] == "serve" || args[0] == "mcp"
	if !long {
		// One-shot modes act on the document as found.
		cfg.Initial = ""
	}
	c, err := console.Build(ctx, cfg, surf, db, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	if persist != nil {
		c.SetPersist(persist)
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, logger, cfg, c)
	case "mcp":
		return runMCP(ctx, c)
	case "show":
		if len(args) < 2 {
			return errors.New("show: section id required")
		}
		return runShow(kit.WithTransport(ctx, kit.TransportCLI), c, args[1], persist)
	case "diagnose":
		if len(args) > 1 {
			return printJSON(c.Controller().Diagnose(ctx, args[1]))
		}
		return printJSON(c.Controller().DiagnoseAll(ctx))
	case "theme":
		return runTheme(kit.WithTransport(ctx, kit.TransportCLI), c, args[1:], persist)
	default:
		usage()
		return fmt.Errorf("unknown mode %q", args[0])
	}
}

// openSurface returns the configured surface, an optional write-back
// function for the html surface, and a cleanup function.
func openSurface(ctx context.Context, logger *slog.Logger, cfg *config.Config, out string) (surface.Surface, func() error, func(), error) {
	switch cfg.Surface.Kind {
	case config.SurfaceBrowser:
		b, err := rodpage.Launch(ctx, rodpage.Config{
			RemoteURL:       cfg.Surface.Remote,
			Headful:         cfg.Surface.Headful,
			Stealth:         cfg.Surface.Stealth,
			BlockResources:  cfg.Surface.BlockResources,
			NavigateTimeout: cfg.Surface.NavigateTimeout,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		page, err := b.Open(ctx, cfg.Surface.URL)
		if err != nil {
			b.Close()
			return nil, nil, nil, err
		}
		logger.Info("dashctl: page open", "url", page.URL())
		return page, nil, func() { page.Close(); b.Close() }, nil

	default:
		doc, err := htmldoc.ParseFile(cfg.Surface.HTMLFile, cfg.Surface.CSSFiles, htmldoc.WithLogger(logger))
		if err != nil {
			return nil, nil, nil, err
		}
		var persist func() error
		if out != "" {
			persist = func() error { return doc.WriteFile(out) }
		}
		return doc, persist, func() {}, nil
	}
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *config.Config, c *console.Console) error {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           c.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dashctl: listening", "addr", cfg.HTTP.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("dashctl: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP(ctx context.Context, c *console.Console) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "dashctl", Version: version}, nil)
	c.RegisterMCP(srv)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func runShow(ctx context.Context, c *console.Console, id string, persist func() error) error {
	prev, err := c.Controller().Show(ctx, id)
	if err != nil {
		return err
	}
	if persist != nil {
		if err := persist(); err != nil {
			return fmt.Errorf("write document: %w", err)
		}
	}
	return printJSON(map[string]any{
		"active":    id,
		"previous":  prev,
		"diagnosis": c.Controller().Diagnose(ctx, id),
	})
}

func runTheme(ctx context.Context, c *console.Console, args []string, persist func() error) error {
	pref := c.Preference()
	op := "get"
	if len(args) > 0 {
		op = args[0]
	}
	switch op {
	case "get":
		t, err := pref.Get(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"theme": string(t)})
	case "set":
		if len(args) < 2 {
			return errors.New("theme set: value required")
		}
		if err := pref.Set(ctx, args[1]); err != nil {
			return err
		}
	case "toggle":
		if _, err := pref.Toggle(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("theme: unknown operation %q", op)
	}
	if persist != nil {
		if err := persist(); err != nil {
			return fmt.Errorf("write document: %w", err)
		}
	}
	t, err := pref.Get(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"theme": string(t)})
}

func runDBCheck(ctx context.Context, logger *slog.Logger, db *sql.DB) error {
	chk, err := dbcheck.New(ctx, db, dbcheck.WithLogger(logger))
	if err != nil {
		return err
	}
	rep, err := chk.Run(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(rep); err != nil {
		return err
	}
	if !rep.OK() {
		return errors.New("dbcheck: encoding round trip failed")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
