// Package trace emits structured events around the gateway's observable
// boundaries: parsing an SCGI header block, running a request, handing off a
// listening socket. An Action is a named span with exactly one outcome,
// succeeded or failed; a Point is a standalone event.
package trace

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// UseLogger routes all subsequent events to l.
func UseLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Action is an in-flight named span. End it with exactly one of Succeed or
// Fail; later calls are no-ops.
type Action struct {
	log  *zap.Logger
	name string
	done bool
}

// Begin starts a named action.
func Begin(name string, fields ...zap.Field) *Action {
	l := current()
	l.Debug(name, append(fields, zap.String("action_status", "started"))...)
	return &Action{log: l, name: name}
}

// Succeed ends the action with a succeeded outcome.
func (a *Action) Succeed(fields ...zap.Field) {
	if a.done {
		return
	}
	a.done = true
	a.log.Info(a.name, append(fields, zap.String("action_status", "succeeded"))...)
}

// Fail ends the action with a failed outcome.
func (a *Action) Fail(err error, fields ...zap.Field) {
	if a.done {
		return
	}
	a.done = true
	fields = append(fields, zap.Error(err), zap.String("action_status", "failed"))
	a.log.Error(a.name, fields...)
}

// Point logs a standalone event.
func Point(name string, fields ...zap.Field) {
	current().Info(name, fields...)
}
