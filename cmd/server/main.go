package main

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/puavo-org/puavo-web-sub002/internal/config"
	"github.com/puavo-org/puavo-web-sub002/internal/core"
	"github.com/puavo-org/puavo-web-sub002/internal/directory"
	"github.com/puavo-org/puavo-web-sub002/internal/logging"
	"github.com/puavo-org/puavo-web-sub002/internal/store"
	"github.com/puavo-org/puavo-web-sub002/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_batch_size", cfg.Import.BatchSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	st := store.New(pool, slog.Default())
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to prepare database schema", "error", err)
		os.Exit(1)
	}

	dir, err := directory.NewClient(directory.Config{
		BaseURL: cfg.Directory.BaseURL,
		APIKey:  cfg.Directory.APIKey,
		Timeout: cfg.Directory.Timeout,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to create directory client", "error", err)
		os.Exit(1)
	}

	denylist := loadPasswordDenylist(cfg.Import.DenylistPath)
	slog.Info("password denylist loaded", "entries", len(denylist))

	// Workers live until the job context is cancelled at shutdown.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	service := core.NewService(jobCtx, dir, core.ServiceOptions{
		BatchSize:       cfg.Import.BatchSize,
		AutomaticEmails: cfg.Import.AutomaticEmails,
		CommonPasswords: denylist,
		History:         st,
		Logger:          slog.Default(),
	})

	server := web.NewServer(service, dir, st, cfg, slog.Default())

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// loadPasswordDenylist reads a newline-separated password list, merged
// over the built-in entries. Blank lines and #-comments are skipped.
func loadPasswordDenylist(path string) map[string]struct{} {
	denylist := core.BuiltinCommonPasswords()
	if path == "" {
		return denylist
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Warn("could not open password denylist, using built-in list",
			"path", path, "error", err)
		return denylist
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		denylist[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading password denylist", "path", path, "error", err)
	}
	return denylist
}
