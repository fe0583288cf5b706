package scgi

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rakshasa/go-scgi-handoff/trace"
)

// captureTrace routes the trace layer into an observer for the duration of
// the test.
func captureTrace(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	trace.UseLogger(zap.New(core))
	t.Cleanup(func() { trace.UseLogger(zap.NewNop()) })
	return logs
}

// actionOutcome returns the final status logged for the named action, or ""
// if it never ended.
func actionOutcome(logs *observer.ObservedLogs, name string) string {
	for _, entry := range logs.All() {
		if entry.Message != name {
			continue
		}
		for _, field := range entry.Context {
			if field.Key == "action_status" && field.String != "started" {
				return field.String
			}
		}
	}
	return ""
}
