package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := &zapLogger{z: zap.New(core)}

	l.Info("order_submitted", String("symbol", "BTCUSDT"), Float64("qty", 1.5))
	l.Warn("risk_limit", Bool("rejected", true))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "order_submitted" {
		t.Fatalf("unexpected message %q", entries[0].Message)
	}
	fields := entries[0].ContextMap()
	if fields["symbol"] != "BTCUSDT" {
		t.Fatalf("symbol field lost: %v", fields)
	}
}

func TestNewZapLogger(t *testing.T) {
	l, err := NewZapLogger()
	if err != nil {
		t.Fatalf("NewZapLogger failed: %v", err)
	}
	if l == nil {
		t.Fatal("nil logger")
	}
}

func TestNewNop(t *testing.T) {
	// Must not panic.
	NewNop().Info("ignored", Int("n", 1))
}
