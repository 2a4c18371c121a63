package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WARN, false)
	l.SetOutput(&buf)

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO line written at WARN level: %q", out)
	}
	if !strings.Contains(out, "WARN: shown") {
		t.Errorf("expected WARN line, got %q", out)
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(DEBUG, true)
	l.SetOutput(&buf)

	l.WithComponent("devserver").Info("ready", map[string]interface{}{"port": 3000})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "INFO" || entry.Message != "ready" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["component"] != "devserver" {
		t.Errorf("component field missing: %+v", entry.Fields)
	}
	if entry.Fields["port"] != float64(3000) {
		t.Errorf("port field missing: %+v", entry.Fields)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	parent.SetOutput(&buf)

	_ = parent.WithField("label", "Gatsby")
	parent.Info("plain")

	if strings.Contains(buf.String(), "label=") {
		t.Errorf("parent logger picked up child field: %q", buf.String())
	}
}

func TestTextFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(INFO, false)
	l.SetOutput(&buf)

	l.Info("msg", map[string]interface{}{"b": 2, "a": 1})

	if !strings.Contains(buf.String(), "a=1 b=2") {
		t.Errorf("fields not sorted: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDiscardWritesNothing(t *testing.T) {
	l := Discard()
	if l.Enabled(ERROR) {
		t.Error("discard logger should not enable ERROR")
	}
	l.Error("nothing")
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLogger(dir, "dev", INFO, false)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Info("to file")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "dev.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file missing entry: %q", data)
	}
}
