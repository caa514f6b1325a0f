package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestComponentLoggerPrefixesComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	SetLevel(LevelDebug)
	t.Cleanup(func() { SetOutput(os.Stderr); SetLevel(LevelInfo) })

	logger := NewComponentLogger("engine-router")
	logger.Info("selected %s", "reqwest")

	if !strings.Contains(buf.String(), "[engine-router]") {
		t.Fatalf("expected component tag in output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "selected reqwest") {
		t.Fatalf("expected formatted message, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetOutput(os.Stderr); SetLevel(LevelInfo) })

	logger := NewComponentLogger("breaker")
	logger.Debug("should not appear")
	logger.Warn("should appear")

	if strings.Contains(buf.String(), "should not appear") {
		t.Fatalf("debug line should have been filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestOrNopHandlesNilLogger(t *testing.T) {
	var l Logger
	safe := OrNop(l)
	safe.Info("must not panic")
}

func TestWithAttachesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	SetLevel(LevelDebug)
	t.Cleanup(func() { SetOutput(os.Stderr); SetLevel(LevelInfo) })

	logger := NewComponentLogger("dispatcher").With(F("task_id", "t-1"))
	logger.Info("leased")

	if !strings.Contains(buf.String(), "task_id=t-1") {
		t.Fatalf("expected field in output, got %q", buf.String())
	}
}
