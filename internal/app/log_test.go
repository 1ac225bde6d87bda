package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "info message",
			level:   slog.LevelInfo,
			message: "identity enrolled",
			want:    "2024-06-15T14:30:45Z\tINFO\trun-1\tidentity enrolled\n",
		},
		{
			name:    "warn with attrs",
			level:   slog.LevelWarn,
			message: "skipping unreadable template",
			attrs:   []slog.Attr{slog.Int64("identity_id", 7), slog.String("error", "integrity")},
			want:    "2024-06-15T14:30:45Z\tWARN\trun-1\tskipping unreadable template\tidentity_id=7\terror=integrity\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &lineHandler{w: &buf, runID: "run-1"}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &lineHandler{w: &buf, runID: "run-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "ingest")}).(*lineHandler)
	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "cycle", 0)
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "a=1\tcomponent=ingest") {
		t.Errorf("expected pre-set attrs in order, got: %q", got)
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Leveler
		check slog.Level
		want  bool
	}{
		{"no level set", nil, slog.LevelDebug, true},
		{"debug below info", slog.LevelInfo, slog.LevelDebug, false},
		{"warn above info", slog.LevelInfo, slog.LevelWarn, true},
		{"verbose debug", slog.LevelDebug, slog.LevelDebug, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &lineHandler{level: tt.level}
			if got := h.Enabled(context.Background(), tt.check); got != tt.want {
				t.Errorf("Enabled(%v) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-run", false)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("hello", "k", "v")
	logger.Debug("hidden")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello\tk=v") {
		t.Errorf("log file missing info record: %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Errorf("debug record written without verbose: %q", data)
	}
}
