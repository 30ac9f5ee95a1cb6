package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{
		Component: component,
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_ComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentLedger)

	logger.Info("loaded", FieldPostings, 3)
	out := buf.String()
	if !strings.Contains(out, "component=ledger") || !strings.Contains(out, "postings=3") {
		t.Errorf("log line = %q", out)
	}

	buf.Reset()
	logger.WithComponent(ComponentCache).Debug("hit")
	if !strings.Contains(buf.String(), "component=cache") {
		t.Errorf("log line = %q", buf.String())
	}
}

func TestLogSnapshotLoaded(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf, ComponentApp))

	sl.LogSnapshotLoaded(context.Background(), "/ledger/main.beancount", "0123456789abcdef0123", 42, 1500*time.Millisecond)

	out := buf.String()
	for _, want := range []string{"ledger_path=/ledger/main.beancount", "checksum=0123456789ab", "postings=42", "duration_ms=1500", "operation=load"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "0123456789abc") {
		t.Errorf("checksum should be shortened: %q", out)
	}
}

func TestMiddleware_FromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentApp)

	var got *Logger
	h := Middleware(logger)(ComponentMiddleware(ComponentHTTP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got == nil || got.Component() != ComponentHTTP {
		t.Fatalf("FromContext() component = %v", got)
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Errorf("FromContext without logger should fall back to the default")
	}
}
