package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	ctxlog "github.com/ErlanBelekov/table-sync/internal/log"
	"github.com/ErlanBelekov/table-sync/internal/runid"
)

func TestContextHandler_AddsRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ctxlog.NewContextHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := runid.WithRunID(context.Background(), "run-1")
	logger.InfoContext(ctx, "task finished")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", rec["run_id"])
	}
	if rec["component"] != "test" {
		t.Errorf("component = %v, want test", rec["component"])
	}

	buf.Reset()
	logger.Info("no run")
	if bytes.Contains(buf.Bytes(), []byte("run_id")) {
		t.Errorf("unexpected run_id in %s", buf.String())
	}
}
