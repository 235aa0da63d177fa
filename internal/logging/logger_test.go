package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConfigure_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(LevelWarn, &buf)
	defer Configure(LevelInfo, nil)

	Logger().Info("hidden")
	With("component", "test").Warn("shown", "turn", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info record leaked at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("Expected one JSON record, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["component"] != "test" || rec["turn"] != float64(3) {
		t.Errorf("Unexpected record: %v", rec)
	}
}

func TestEnableFileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	if err := EnableFileLogging(dir, LevelDebug); err != nil {
		t.Fatalf("EnableFileLogging failed: %v", err)
	}
	Logger().Debug("to file")
	Close()
	defer Configure(LevelInfo, nil)

	data, err := os.ReadFile(filepath.Join(dir, "uta.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("Log file missing record: %s", data)
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != Logger() {
		t.Error("nil should map to the global logger")
	}
	l := With("k", "v")
	if OrDefault(l) != l {
		t.Error("non-nil logger should be returned as is")
	}
}
