package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.OutputPath = filepath.Join(t.TempDir(), "relay.log")
	cfg.NodeID = "abc"

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Named("test").Info("hello")
	_ = l.Sync()

	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"message":"hello"`) || !strings.Contains(out, `"node_id":"abc"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}

func TestNewLogger_BadLevelFallsBack(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.Level = "loud"
	cfg.OutputPath = filepath.Join(t.TempDir(), "relay.log")
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(-1) {
		t.Fatalf("debug should be disabled at the fallback level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected a logger")
	}
}
