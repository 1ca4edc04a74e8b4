package kemudi

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// Logger is the minimal structured logging interface kemudi emits debug
// output through. Keys and values alternate in keysAndValues.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SimpleLogger writes leveled log lines to the standard logger.
type SimpleLogger struct{}

// NewSimpleLogger returns a console logger suitable for development.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.print("DEBUG", msg, keysAndValues)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.print("INFO", msg, keysAndValues)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.print("WARN", msg, keysAndValues)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.print("ERROR", msg, keysAndValues)
}

func (l *SimpleLogger) print(level, msg string, keysAndValues []interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	log.Print(b.String())
}

// DebugConfig controls which orchestration events are logged when a Logger is
// configured. All flags default to on; debugging is opt-in via WithDebug.
type DebugConfig struct {
	Enabled    bool
	LogQueue   bool
	LogCache   bool
	LogRetries bool
	LogDedup   bool

	// RequestIDGen produces an identifier attached to all log lines for one
	// Submit call.
	RequestIDGen func() string
}

// DefaultDebugConfig enables every event class with a sequential ID generator.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogQueue:     true,
		LogCache:     true,
		LogRetries:   true,
		LogDedup:     true,
		RequestIDGen: sequentialRequestID(),
	}
}

func sequentialRequestID() func() string {
	var n uint64
	return func() string {
		return fmt.Sprintf("req-%d", atomic.AddUint64(&n, 1))
	}
}
