// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package log

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty", nil, nil},
		{"pairs", []any{"a", 1, "b", "x"}, []string{"a", "b"}},
		{"dangling key", []any{"a", 1, "b"}, []string{"a", "b"}},
		{"non-string key", []any{7, "v"}, []string{"7"}},
		{"nil value", []any{"a", nil}, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d", len(fields), len(tt.wantKeys))
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestLoggerWritesStructuredEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core)).WithName("console").WithValues("session", "abc")

	l.Info("upload started", "length", 40)
	l.Error(errors.New("boom"), "upload failed")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	first := entries[0]
	if first.LoggerName != "console" {
		t.Errorf("logger name = %q, want console", first.LoggerName)
	}
	ctx := first.ContextMap()
	if ctx["session"] != "abc" {
		t.Errorf("session = %v, want abc", ctx["session"])
	}
	if ctx["length"] != int64(40) {
		t.Errorf("length = %v (%T), want 40", ctx["length"], ctx["length"])
	}

	second := entries[1]
	if second.Level != zapcore.ErrorLevel {
		t.Errorf("level = %v, want error", second.Level)
	}
	if second.ContextMap()["error"] != "boom" {
		t.Errorf("error field = %v, want boom", second.ContextMap()["error"])
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	opts := NewOptions()
	opts.Level = "loud"
	if _, err := NewLogger(opts); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewLoggerRejectsBadFormat(t *testing.T) {
	opts := NewOptions()
	opts.Format = "xml"
	if _, err := NewLogger(opts); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestInitWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fwlift.log")
	opts := NewOptions()
	opts.Level = "info"
	opts.Format = "json"
	opts.Name = "fwlift"
	opts.OutputPaths = []string{path}

	prev := Std()
	t.Cleanup(func() { SetStd(prev) })
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	Std().Debug("below level")
	Std().Info("upload complete", "bytes", 40)
	if err := Std().Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	if entry["msg"] != "upload complete" {
		t.Errorf("msg = %v, want upload complete", entry["msg"])
	}
	if entry["logger"] != "fwlift" {
		t.Errorf("logger = %v, want fwlift", entry["logger"])
	}
	if entry["bytes"] != float64(40) {
		t.Errorf("bytes = %v, want 40", entry["bytes"])
	}
}

func TestNewLoggerDefaults(t *testing.T) {
	l, err := NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger(nil): %v", err)
	}
	l.Debug("dropped at warn level")
}

func TestStdDefaultsToNop(t *testing.T) {
	if Std() == nil {
		t.Fatal("Std() returned nil")
	}
	Std().Info("nothing happens")

	core, logs := observer.New(zapcore.InfoLevel)
	prev := Std()
	SetStd(NewFromZap(zap.New(core)))
	t.Cleanup(func() { SetStd(prev) })

	Std().Info("now recorded")
	if logs.Len() != 1 {
		t.Fatalf("got %d entries, want 1", logs.Len())
	}
}
