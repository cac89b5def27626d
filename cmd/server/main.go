// Package main is the entry point for the python-sandbox MCP server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (flags, config file, env vars)
// 2. Create dependencies (logger, execution pool, database, token service)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// USAGE:
//
//	server                          # MCP over streamable HTTP on :8080/mcp
//	PYEXEC_TRANSPORT=stdio server   # MCP over stdin/stdout (desktop clients)
//	server -issue-token my-client   # print a bearer token and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sakif/python-sandbox/internal/auth"
	"github.com/sakif/python-sandbox/internal/config"
	"github.com/sakif/python-sandbox/internal/executor"
	"github.com/sakif/python-sandbox/internal/executor/bootstrap"
	"github.com/sakif/python-sandbox/internal/executor/docker"
	"github.com/sakif/python-sandbox/internal/executor/process"
	"github.com/sakif/python-sandbox/internal/repository"
	sqliteRepo "github.com/sakif/python-sandbox/internal/repository/sqlite"
	"github.com/sakif/python-sandbox/internal/server"
	"github.com/sakif/python-sandbox/internal/service"
)

// version is overridden at build time: -ldflags "-X main.version=v1.2.3"
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $PYEXEC_CONFIG or ./config.yaml)")
	issueToken := flag.String("issue-token", "", "print a bearer token for the named client and exit")
	tokenTTL := flag.Duration("token-ttl", auth.DefaultTokenTTL, "lifetime of the token printed by -issue-token")
	flag.Parse()

	if err := run(*configPath, *issueToken, *tokenTTL); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, issueToken string, tokenTTL time.Duration) error {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// === 2. SET UP LOGGING ===
	// In stdio mode stdout carries the MCP protocol, so logs go to stderr.
	var logOut io.Writer = os.Stdout
	if cfg.Server.Transport == config.TransportStdio {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))

	// === 3. AUTH ===
	// JWT_SECRET must be a long random string: JWT_SECRET=$(openssl rand -hex 32)
	// If unset, the HTTP endpoints are open.
	var tokens *auth.TokenService
	if cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokenService(cfg.Auth.JWTSecret)
		if err != nil {
			return err
		}
	}

	if issueToken != "" {
		if tokens == nil {
			return fmt.Errorf("-issue-token needs JWT_SECRET (or auth.jwt_secret) to be set")
		}
		token, err := tokens.GenerateWithDuration(issueToken, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	if tokens == nil && cfg.Server.Transport == config.TransportHTTP {
		logger.Warn("JWT_SECRET not set, authentication is disabled")
	}

	// === 4. EXECUTION POOL ===
	launcher, closeLauncher, err := newLauncher(cfg.Executor, logger)
	if err != nil {
		return err
	}

	pool, err := executor.NewPool(cfg.Executor.PoolSize, launcher, logger)
	if err != nil {
		_ = closeLauncher()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Executor.Warm {
		pool.Warm(ctx)
	}

	// === 5. EXECUTION HISTORY (optional) ===
	var (
		history repository.ExecutionRepository
		db      *sqliteRepo.DB
	)
	if cfg.History.DBPath != "" {
		db, err = openDatabase(cfg.History.DBPath)
		if err != nil {
			pool.Close()
			_ = closeLauncher()
			return err
		}
		history = db
		logger.Info("execution history enabled", slog.String("database", cfg.History.DBPath))
	}

	// === 6. CREATE AND START THE SERVER ===
	svc := service.NewExecutionService(pool, history, service.Limits{
		DefaultTimeout: cfg.Executor.DefaultTimeout(),
		MaxTimeout:     cfg.Executor.MaxTimeout(),
		MaxCodeLength:  cfg.Executor.MaxCodeLength,
	}, logger)

	srv := server.New(server.Config{
		Port:            cfg.Server.Port,
		Version:         version,
		WriteTimeout:    cfg.Executor.MaxTimeout() + 30*time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, svc, tokens, logger)

	// Closed newest first: database, pool, then the launcher the pool uses.
	srv.AddCloser("launcher", closeLauncher)
	srv.AddCloser("pool", func() error { pool.Close(); return nil })
	if db != nil {
		srv.AddCloser("database", db.Close)
	}

	logger.Info("execution pool ready",
		slog.String("backend", cfg.Executor.Backend),
		slog.Int("poolSize", pool.Size()),
		slog.Duration("defaultTimeout", cfg.Executor.DefaultTimeout()),
	)

	if cfg.Server.Transport == config.TransportStdio {
		return srv.RunStdio(ctx)
	}
	return srv.Start(ctx)
}

// newLauncher builds the configured backend. The returned func releases it.
func newLauncher(cfg config.ExecutorConfig, logger *slog.Logger) (executor.Launcher, func() error, error) {
	index := bootstrap.SelectIndex(cfg.IndexURL, cfg.Wheelhouse)
	logger.Info("package index selected",
		slog.String("url", index.URL),
		slog.String("wheelhouse", index.Wheelhouse),
	)

	switch cfg.Backend {
	case config.BackendDocker:
		dcfg := docker.DefaultConfig()
		dcfg.Image = cfg.Docker.Image
		dcfg.MemoryLimit = cfg.Docker.MemoryMB * 1024 * 1024
		dcfg.CPULimit = cfg.Docker.CPUs
		dcfg.NetworkMode = cfg.Docker.NetworkMode
		dcfg.TmpfsSize = cfg.Docker.TmpfsSize
		dcfg.PullImage = cfg.Docker.PullImage
		dcfg.Index = index

		l, err := docker.New(dcfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("docker backend unavailable: %w", err)
		}
		return l, l.Close, nil

	default:
		pcfg := process.DefaultConfig()
		pcfg.Python = cfg.Python
		pcfg.Index = index

		l, err := process.New(pcfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("process backend unavailable: %w", err)
		}
		return l, func() error { return nil }, nil
	}
}

// openDatabase creates the parent directory (like `mkdir -p`) and opens the
// history database.
func openDatabase(dbPath string) (*sqliteRepo.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
