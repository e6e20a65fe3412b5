package observability

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNopLoggerIsSafe(t *testing.T) {
	var l Logger = NopLogger{}
	l.Info("ignored", String("k", "v"))
	l = l.With(Int("n", 1))
	l.Error("still ignored", Error(errors.New("boom")))
}

func TestZapAdapterForwardsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Info("scan complete",
		String("dir", "/tmp/in"),
		Int("files", 3),
		Int64("bytes", 1024),
		Bool("ocr", true),
		Error(errors.New("partial")),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Message != "scan complete" {
		t.Fatalf("unexpected message %q", e.Message)
	}
	ctx := e.ContextMap()
	if ctx["dir"] != "/tmp/in" {
		t.Fatalf("dir field missing: %v", ctx)
	}
	if ctx["files"] != int64(3) {
		t.Fatalf("files field missing: %v", ctx)
	}
	if ctx["ocr"] != true {
		t.Fatalf("ocr field missing: %v", ctx)
	}
}

func TestWithAttachesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapLogger(zap.New(core)).With(String("component", "renamer"))
	l.Debug("planned")

	if got := logs.All()[0].ContextMap()["component"]; got != "renamer" {
		t.Fatalf("expected component field, got %v", got)
	}
}
