package logger_test

import (
	"testing"

	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/testutils"
)

func TestMockLogger(t *testing.T) {
	l := testutils.NewMockLogger()
	l.Info("hello", logger.String("k", "v"))
	if got := l.LastMessage(); got != "hello" {
		t.Fatalf("expected last message 'hello', got %q", got)
	}
}

func TestNewZapLoggerRejectsBadLevel(t *testing.T) {
	if _, err := logger.NewZapLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := logger.NewZapLogger("debug"); err != nil {
		t.Fatalf("debug level should be accepted: %v", err)
	}
}

func TestLimitedCollapsesOverflow(t *testing.T) {
	mock := testutils.NewMockLogger()
	lim := logger.NewLimited(mock, 5)
	for i := 0; i < 8; i++ {
		lim.Info("pair_signal", logger.Int("i", i))
	}
	if got := lim.Suppressed(); got != 3 {
		t.Fatalf("expected 3 suppressed, got %d", got)
	}
	lim.Flush()

	if n := mock.Count("pair_signal"); n != 5 {
		t.Fatalf("expected 5 forwarded entries, got %d", n)
	}
	if mock.LastMessage() != "additional logs suppressed" {
		t.Fatalf("expected summary entry, got %q", mock.LastMessage())
	}

	// counters reset after flush
	lim.Warn("missing_data")
	if n := len(mock.Entries()); n != 7 {
		t.Fatalf("expected 7 entries after reset, got %d", n)
	}
}
