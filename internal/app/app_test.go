package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"genie/internal/config"
	"genie/internal/events"
)

func TestOpenMemoryBackend(t *testing.T) {
	a, err := Open(context.Background(), config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.DB != nil {
		t.Fatalf("memory backend should not open a database")
	}
	ref, _, err := a.Engine.Start(context.Background(), "goal")
	if err != nil || ref.LocalID != 0 {
		t.Fatalf("start: %v %+v", err, ref)
	}
}

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.Workspace = t.TempDir()
	ctx := context.Background()
	a, err := Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if _, _, err := a.Engine.Start(ctx, "durable"); err != nil {
		t.Fatalf("start: %v", err)
	}
	evts, err := events.Latest(ctx, a.DB, 5, -1)
	if err != nil || len(evts) != 1 || evts[0].Type != events.ProjectStart {
		t.Fatalf("expected start event, got %+v %v", evts, err)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "warn", "json").Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	NewLogger(&buf, "debug", "json").Debug("shown", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"shown"`) || !strings.Contains(buf.String(), `"service":"genie"`) {
		t.Fatalf("unexpected json output %s", buf.String())
	}
}
