package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gobby-stack/gobby/internal/config"
)

func TestNewFromConfig_StderrOnly(t *testing.T) {
	logger, closer, err := NewFromConfig(config.Default(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if closer != nil {
		t.Error("closer returned without a log file")
	}
	if logger == nil {
		t.Fatal("nil logger")
	}
}

func TestNewFromConfig_AppendsToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogsDir = filepath.Join(dir, "nested", "logs")
	cfg.Logging.File = "daemon.log"
	cfg.Logging.Level = config.LogLevelWarn

	logger, closer, err := NewFromConfig(cfg, dir)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if closer == nil {
		t.Fatal("no closer for file logging")
	}
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")
	closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, "nested", "logs", "daemon.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "kept") {
		t.Errorf("log file = %s", data)
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogLevelDebug, slog.LevelDebug},
		{config.LogLevelInfo, slog.LevelInfo},
		{config.LogLevelWarn, slog.LevelWarn},
		{config.LogLevelError, slog.LevelError},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := Level(tt.in); got != tt.want {
			t.Errorf("Level(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	var text, js bytes.Buffer
	New(&text, config.LogFormatText, slog.LevelInfo).Info("hello", "key", "value")
	New(&js, config.LogFormatJSON, slog.LevelInfo).Info("hello", "key", "value")

	if !strings.Contains(text.String(), "key=value") {
		t.Errorf("text output = %q", text.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(js.Bytes(), &rec); err != nil || rec["key"] != "value" {
		t.Errorf("json output = %q (%v)", js.String(), err)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogFormatJSON, slog.LevelInfo)

	WithWorkflow(WithExecution(WithSession(logger, "sess-1"), "exec-1", "deploy"), "ci").Info("x")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	want := map[string]string{KeySession: "sess-1", KeyExecution: "exec-1", KeyPipeline: "deploy", KeyWorkflow: "ci"}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %s", k, rec[k], v)
		}
	}
}
