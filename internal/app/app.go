// Package app assembles the project service from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"genie/internal/config"
	"genie/internal/db"
	"genie/internal/engine"
	"genie/internal/llm"
	"genie/internal/migrate"
	"genie/internal/remote"
	"genie/internal/repo"
)

// App holds the wired engine and the resources it owns.
type App struct {
	Config *config.Config
	Engine engine.Engine
	Logger *slog.Logger
	// DB is nil for the memory backend.
	DB *sql.DB
}

// Open builds the store selected by cfg, the project service client and the
// completion client, then the engine on top of them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	var store repo.Store
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		conn, err := db.Open(db.Config{Workspace: cfg.Store.Workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.DB = conn
		store = repo.New(conn)
		logger.Info("using sqlite store", "path", db.Path(cfg.Store.Workspace))
	case config.BackendMemory, "":
		store = repo.NewMemory()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	rc := remote.New(cfg.ProjectService.URL, cfg.ProjectServiceTimeout(), logger.With("component", "project_service"))
	if !rc.Configured() {
		logger.Warn("PROJECT_SERVICE_URL not set; external projects are unavailable")
	}
	gen := llm.New(llm.Options{
		URL:           cfg.LLM.URL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		AskMaxTokens:  cfg.LLM.AskMaxTokens,
		ChatMaxTokens: cfg.LLM.ChatMaxTokens,
	})
	if cfg.LLM.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; question and chat requests will fail")
	}
	a.Engine = engine.New(store, rc, gen, logger.With("component", "engine"))
	return a, nil
}

// Close releases the database if one was opened.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "genie")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
