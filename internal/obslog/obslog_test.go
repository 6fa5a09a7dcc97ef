package obslog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsNilWriterToStderr(t *testing.T) {
	l := New(nil, false)
	assert.NotNil(t, l.out, "a nil writer must not be kept as-is; logf would panic on the first Fprintln")
}

func TestDebugfGatedByDebugFlag(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Debugf("should not appear")
	assert.Empty(t, buf.String())

	l = New(&buf, true)
	l.Debugf("visible %d", 1)
	assert.Contains(t, buf.String(), "visible 1")
}

func TestInfofAlwaysWrites(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Infof("hello %s", "world")
	assert.True(t, strings.Contains(buf.String(), "hello world"))
	assert.Contains(t, buf.String(), "[INFO]")
}

func TestNilLoggerIsANoOp(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Debugf("x")
		l.Infof("x")
		l.Errorf("x")
	})
}
