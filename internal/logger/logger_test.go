package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Options{Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name     string
		fn       func()
		expected string
	}{
		{
			name:     "Info",
			fn:       func() { l.Info("test message") },
			expected: `level=INFO msg="test message"`,
		},
		{
			name:     "Warn",
			fn:       func() { l.Warn("warning message") },
			expected: `level=WARN msg="warning message"`,
		},
		{
			name:     "Error",
			fn:       func() { l.Error("error message") },
			expected: `level=ERROR msg="error message"`,
		},
		{
			name:     "Debug",
			fn:       func() { l.Debug("debug message") },
			expected: `level=DEBUG msg="debug message"`,
		},
		{
			name:     "Info with args",
			fn:       func() { l.Info("test", "count", 42) },
			expected: `level=INFO msg=test count=42`,
		},
		{
			name:     "With",
			fn:       func() { l.With("component", "store").Info("opened") },
			expected: `level=INFO msg=opened component=store`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.fn()
			got := strings.TrimSpace(buf.String())
			if !strings.Contains(got, tt.expected) {
				t.Errorf("got %q, want it to contain %q", got, tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Options{Level: "warn"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn output, got %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Options{Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hello", "kind", "sqlite")
	got := buf.String()
	if !strings.Contains(got, `"msg":"hello"`) || !strings.Contains(got, `"kind":"sqlite"`) {
		t.Errorf("unexpected json output %q", got)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestDefault(t *testing.T) {
	if Default == nil {
		t.Error("Default logger should not be nil")
	}

	Discard.Info("test")
}
