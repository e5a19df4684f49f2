package orchestrator

import (
	"context"
	"sync"
)

type logEntry struct {
	level   string
	message string
	keyvals []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{}
}

func (l *recordingLogger) log(level, msg string, keyvals []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, message: msg, keyvals: keyvals})
}

func (l *recordingLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.log("debug", msg, keyvals)
}

func (l *recordingLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.log("info", msg, keyvals)
}

func (l *recordingLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.log("warn", msg, keyvals)
}

func (l *recordingLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.log("error", msg, keyvals)
}

func (l *recordingLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.message == msg {
			n++
		}
	}
	return n
}
