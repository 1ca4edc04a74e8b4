package kemudi

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	old := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(old)
	fn()
	return buf.String()
}

func TestSimpleLoggerLevels(t *testing.T) {
	logger := NewSimpleLogger()

	tests := []struct {
		level string
		fn    func(string, ...interface{})
	}{
		{"DEBUG", logger.Debug},
		{"INFO", logger.Info},
		{"WARN", logger.Warn},
		{"ERROR", logger.Error},
	}
	for _, tt := range tests {
		out := captureLog(t, func() {
			tt.fn("test message", "key", "value")
		})
		if !strings.Contains(out, tt.level) {
			t.Errorf("Output %q missing level %s", out, tt.level)
		}
		if !strings.Contains(out, "test message") {
			t.Errorf("Output %q missing message", out)
		}
		if !strings.Contains(out, "key=value") {
			t.Errorf("Output %q missing key/value pair", out)
		}
	}
}

func TestSimpleLoggerOddKeyValues(t *testing.T) {
	logger := NewSimpleLogger()
	out := captureLog(t, func() {
		logger.Info("msg", "orphan")
	})
	if !strings.Contains(out, "msg") {
		t.Errorf("Output %q missing message", out)
	}
	// The trailing orphan key is dropped rather than paired with garbage.
	if strings.Contains(out, "orphan") {
		t.Errorf("Output %q should drop the unpaired key", out)
	}
}

func TestDefaultDebugConfig(t *testing.T) {
	config := DefaultDebugConfig()

	if config.Enabled {
		t.Error("Debug should default to disabled")
	}
	if !config.LogQueue || !config.LogCache || !config.LogRetries || !config.LogDedup {
		t.Error("All event classes should default to on")
	}
	if config.RequestIDGen == nil {
		t.Fatal("RequestIDGen should be set")
	}
}

func TestSequentialRequestIDs(t *testing.T) {
	config := DefaultDebugConfig()

	first := config.RequestIDGen()
	second := config.RequestIDGen()
	if first == second {
		t.Errorf("Request IDs should be unique, got %s twice", first)
	}
	if !strings.HasPrefix(first, "req-") {
		t.Errorf("Request ID %q missing req- prefix", first)
	}

	// Generators are independent across configs.
	other := DefaultDebugConfig()
	if got := other.RequestIDGen(); got != first {
		t.Errorf("Fresh generator should restart numbering, got %s", got)
	}
}
