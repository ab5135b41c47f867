// Package testutil provides helpers shared by the middleware tests.
package testutil

import (
	"context"
	"sync"

	"github.com/nimburion/docrest/pkg/observability/logger"
)

// MockLogger captures log entries for assertions.
type MockLogger struct {
	mu   sync.Mutex
	logs []LogEntry
}

// LogEntry is one captured log call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

func (m *MockLogger) record(level, msg string, args []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, LogEntry{Level: level, Msg: msg, Fields: argsToMap(args)})
}

func (m *MockLogger) Debug(msg string, args ...any) { m.record("debug", msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.record("info", msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.record("warn", msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.record("error", msg, args) }

// With returns the same logger.
func (m *MockLogger) With(...any) logger.Logger { return m }

// WithContext returns the same logger.
func (m *MockLogger) WithContext(context.Context) logger.Logger { return m }

// Logs returns a copy of the captured entries.
func (m *MockLogger) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.logs...)
}

// Find returns the first entry with the given level and message.
func (m *MockLogger) Find(level, msg string) (LogEntry, bool) {
	for _, entry := range m.Logs() {
		if entry.Level == level && entry.Msg == msg {
			return entry, true
		}
	}
	return LogEntry{}, false
}

func argsToMap(args []any) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
