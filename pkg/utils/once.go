package utils

import (
	"go.uber.org/zap"
)

// OnceLogger emits each keyed message at most once. Every owner gets its own
// set of keys, so two capture sessions never suppress each other's notices.
type OnceLogger struct {
	logger *zap.SugaredLogger
	seen   map[string]struct{}
}

func NewOnceLogger(logger *zap.SugaredLogger) *OnceLogger {
	return &OnceLogger{logger: logger, seen: make(map[string]struct{})}
}

// Warnf logs at warn level unless key was already used. It reports whether
// the message was written.
func (o *OnceLogger) Warnf(key, template string, args ...interface{}) bool {
	if !o.mark(key) {
		return false
	}
	o.logger.Warnf(template, args...)
	return true
}

func (o *OnceLogger) Infof(key, template string, args ...interface{}) bool {
	if !o.mark(key) {
		return false
	}
	o.logger.Infof(template, args...)
	return true
}

// Seen reports whether key has been emitted.
func (o *OnceLogger) Seen(key string) bool {
	_, ok := o.seen[key]
	return ok
}

func (o *OnceLogger) mark(key string) bool {
	if _, ok := o.seen[key]; ok {
		return false
	}
	o.seen[key] = struct{}{}
	return true
}
