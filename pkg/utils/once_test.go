package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOnceLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	o := NewOnceLogger(zap.New(core).Sugar())

	assert.True(t, o.Warnf("mismatch", "size %dx%d", 800, 600))
	assert.False(t, o.Warnf("mismatch", "size %dx%d", 800, 600))
	assert.True(t, o.Infof("rescaled", "done"))
	assert.True(t, o.Seen("mismatch"))
	assert.False(t, o.Seen("other"))

	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, 1, logs.FilterMessage("size 800x600").Len())
}

func TestOnceLoggerIndependentOwners(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := zap.New(core).Sugar()
	a, b := NewOnceLogger(l), NewOnceLogger(l)

	a.Warnf("k", "first")
	b.Warnf("k", "first")

	assert.Equal(t, 2, logs.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestSetLevelAffectsDerivedLoggers(t *testing.T) {
	named := GetLogger().Named("camera")
	SetLevel("warn")
	defer SetLevel("debug")

	assert.False(t, named.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, named.Desugar().Core().Enabled(zapcore.WarnLevel))
}
