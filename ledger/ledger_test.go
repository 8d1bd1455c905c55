package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/evdnx/gotd/config"
	"github.com/evdnx/gotd/pattern"
	"github.com/evdnx/gotd/risk"
	"github.com/evdnx/gotd/types"
)

func newLedger(t *testing.T) (*Ledger, *pattern.Memory, *risk.Engine) {
	t.Helper()
	cfg := config.Default()
	mem := pattern.NewMemory(cfg.RecentOutcomeWindow)
	rsk := risk.NewEngine(cfg)
	l := New(mem, rsk, nil, 10_000)
	return l, mem, rsk
}

// stops mirrors ComputeStops(entry=100, atr=1, vol=0.1) for a long.
func longStops() types.Stops {
	return types.Stops{
		StopLoss:      97.8,
		EmergencyStop: 96.7,
		TakeProfit:    104.4,
		TrailingStep:  1,
	}
}

func shortStops() types.Stops {
	return types.Stops{
		StopLoss:      102.2,
		EmergencyStop: 103.3,
		TakeProfit:    95.6,
		TrailingStep:  1,
	}
}

func mustOpen(t *testing.T, l *Ledger, symbol string, side types.Side, stops types.Stops) *types.Position {
	t.Helper()
	p, err := l.Open(symbol, side, 2, 100, stops, "RSI_OVERSOLD|TREND_UP", time.Now())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return p
}

func TestOpenRejectsInvalidInput(t *testing.T) {
	l, _, _ := newLedger(t)
	if _, err := l.Open("BTCUSDT", types.Long, 0, 100, longStops(), "p", time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero qty: %v", err)
	}
	if _, err := l.Open("BTCUSDT", types.Long, -1, 100, longStops(), "p", time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative qty: %v", err)
	}
	if _, err := l.Open("", types.Long, 1, 100, longStops(), "p", time.Now()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty symbol: %v", err)
	}
}

func TestOpenOnePositionPerSymbol(t *testing.T) {
	l, _, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())
	if _, err := l.Open("BTCUSDT", types.Long, 1, 100, longStops(), "p", time.Now()); !errors.Is(err, ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
}

func TestTickUpdatesUnrealizedPnl(t *testing.T) {
	l, _, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())

	l.OnPriceTick("BTCUSDT", 101, time.Now())
	s := l.Summary()
	if math.Abs(s.TotalUnrealizedPnl-2) > 1e-9 { // (101-100)*2
		t.Fatalf("unrealized=%v, want 2", s.TotalUnrealizedPnl)
	}
	if s.OpenCount != 1 {
		t.Fatalf("open count=%d", s.OpenCount)
	}
}

func TestStopLossClosesLong(t *testing.T) {
	l, mem, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())

	l.OnPriceTick("BTCUSDT", 97.5, time.Now())

	if l.HasOpen("BTCUSDT") {
		t.Fatal("position must be closed")
	}
	hist := l.History()
	if len(hist) != 1 {
		t.Fatalf("history len=%d", len(hist))
	}
	rec := hist[0]
	if rec.Reason != types.ExitStopLoss {
		t.Fatalf("reason=%q", rec.Reason)
	}
	if math.Abs(rec.RealizedPnl-(-5)) > 1e-9 { // (97.5-100)*2
		t.Fatalf("realized=%v, want -5", rec.RealizedPnl)
	}

	// Outcome fed back into pattern memory keyed by the entry pattern.
	s, ok := mem.Stats(pattern.Key(rec.Pattern))
	if !ok || s.Losses != 1 {
		t.Fatalf("pattern feedback missing: %+v ok=%v", s, ok)
	}
}

func TestTakeProfitClosesLong(t *testing.T) {
	l, mem, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())

	l.OnPriceTick("BTCUSDT", 104.5, time.Now())

	hist := l.History()
	if len(hist) != 1 || hist[0].Reason != types.ExitTakeProfit {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if s, _ := mem.Stats(pattern.Key(hist[0].Pattern)); s.Wins != 1 {
		t.Fatalf("win not recorded: %+v", s)
	}
}

func TestEmergencyStopBeatsStopLoss(t *testing.T) {
	l, _, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())

	// A collapse through every level must report the emergency stop.
	l.OnPriceTick("BTCUSDT", 90, time.Now())
	hist := l.History()
	if len(hist) != 1 || hist[0].Reason != types.ExitEmergencyStop {
		t.Fatalf("unexpected: %+v", hist)
	}
}

// A price that somehow satisfies both protective and profit conditions in
// one tick must resolve toward protection.
func TestExitPriorityStopBeforeTarget(t *testing.T) {
	l, _, _ := newLedger(t)
	// Degenerate stops: stop-loss above take-profit, both breached by one
	// extreme tick.
	stops := types.Stops{StopLoss: 105, TakeProfit: 104}
	mustOpen(t, l, "BTCUSDT", types.Long, stops)

	l.OnPriceTick("BTCUSDT", 104.5, time.Now())
	hist := l.History()
	if len(hist) != 1 {
		t.Fatalf("history len=%d", len(hist))
	}
	if hist[0].Reason != types.ExitStopLoss {
		t.Fatalf("priority violated: %q", hist[0].Reason)
	}
}

func TestShortSideExits(t *testing.T) {
	l, _, _ := newLedger(t)
	mustOpen(t, l, "ETHUSDT", types.Short, shortStops())

	l.OnPriceTick("ETHUSDT", 95.5, time.Now()) // below the 95.6 target
	hist := l.History()
	if len(hist) != 1 || hist[0].Reason != types.ExitTakeProfit {
		t.Fatalf("unexpected: %+v", hist)
	}
	if hist[0].RealizedPnl <= 0 {
		t.Fatalf("short profit expected, got %v", hist[0].RealizedPnl)
	}
}

func TestTrailingStopRatchet(t *testing.T) {
	l, _, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())

	// Two favorable whole steps: stop advances 97.8 -> 99.8.
	l.OnPriceTick("BTCUSDT", 102, time.Now())
	if !l.HasOpen("BTCUSDT") {
		t.Fatal("position closed prematurely")
	}
	pos := l.OpenPositions()[0]
	if math.Abs(pos.Stops.StopLoss-99.8) > 1e-9 {
		t.Fatalf("stop=%v, want 99.8", pos.Stops.StopLoss)
	}

	// Pullback must not loosen the stop.
	l.OnPriceTick("BTCUSDT", 100.5, time.Now())
	pos = l.OpenPositions()[0]
	if math.Abs(pos.Stops.StopLoss-99.8) > 1e-9 {
		t.Fatalf("stop moved backwards to %v", pos.Stops.StopLoss)
	}

	// One more favorable step lifts the stop past entry.
	l.OnPriceTick("BTCUSDT", 103, time.Now())
	pos = l.OpenPositions()[0]
	if math.Abs(pos.Stops.StopLoss-100.8) > 1e-9 {
		t.Fatalf("stop=%v, want 100.8", pos.Stops.StopLoss)
	}

	// Falling through the ratcheted stop closes in profit.
	l.OnPriceTick("BTCUSDT", 100.7, time.Now())
	hist := l.History()
	if len(hist) != 1 || hist[0].Reason != types.ExitStopLoss {
		t.Fatalf("unexpected: %+v", hist)
	}
	if hist[0].RealizedPnl <= 0 {
		t.Fatalf("trailed exit should lock profit, got %v", hist[0].RealizedPnl)
	}
}

func TestStaleTickIsNoOp(t *testing.T) {
	l, _, _ := newLedger(t)
	l.OnPriceTick("NOPE", 123, time.Now())
	if s := l.Summary(); s.OpenCount != 0 || len(l.History()) != 0 {
		t.Fatalf("stale tick mutated state: %+v", s)
	}
}

func TestManualClose(t *testing.T) {
	l, mem, rsk := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())

	rec, err := l.Close("BTCUSDT", 101, "", time.Now())
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if rec.Reason != types.ExitManual {
		t.Fatalf("reason=%q", rec.Reason)
	}
	if math.Abs(rec.RealizedPnl-2) > 1e-9 {
		t.Fatalf("realized=%v", rec.RealizedPnl)
	}
	if l.Capital() != 10_002 {
		t.Fatalf("capital=%v, want 10002", l.Capital())
	}
	if s, _ := mem.Stats(pattern.Key(rec.Pattern)); s.Wins != 1 {
		t.Fatalf("pattern feedback missing: %+v", s)
	}
	if rsk.Snapshot().WinRate != 1 {
		t.Fatalf("risk feedback missing: %+v", rsk.Snapshot())
	}

	if _, err := l.Close("BTCUSDT", 101, "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second close must be NotFound, got %v", err)
	}
}

func TestAbortRemovesWithoutBookkeeping(t *testing.T) {
	l, mem, rsk := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())

	if err := l.Abort("BTCUSDT"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if l.HasOpen("BTCUSDT") {
		t.Fatal("aborted position still open")
	}
	if len(l.History()) != 0 {
		t.Fatal("abort must not create a trade record")
	}
	if l.Capital() != 10_000 {
		t.Fatalf("abort must not touch capital, got %v", l.Capital())
	}
	if mem.Len() != 0 {
		t.Fatal("abort must not feed the pattern memory")
	}
	if m := rsk.Snapshot(); m.WinRate != 0 {
		t.Fatalf("abort must not feed the risk engine: %+v", m)
	}
	if err := l.Abort("BTCUSDT"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second abort must be NotFound, got %v", err)
	}
}

func TestSummaryIdempotent(t *testing.T) {
	l, _, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, longStops())
	l.OnPriceTick("BTCUSDT", 101, time.Now())

	a := l.Summary()
	b := l.Summary()
	if a != b {
		t.Fatalf("summary not idempotent: %+v vs %+v", a, b)
	}
}

func TestRestoreRebuildsBook(t *testing.T) {
	l, _, _ := newLedger(t)
	saved := []types.Position{
		{
			ID: "x", Symbol: "BTCUSDT", Side: types.Long, EntryPrice: 100,
			Quantity: 2, Stops: longStops(), Pattern: "A|B", Status: types.StatusOpen,
		},
		{
			ID: "y", Symbol: "OLD", Side: types.Long, EntryPrice: 50,
			Quantity: 1, Status: types.StatusClosed,
		},
	}
	savedHistory := []types.TradeRecord{
		{ID: "t1", Symbol: "OLD", RealizedPnl: -300, Reason: types.ExitStopLoss},
		{ID: "t2", Symbol: "OLD", RealizedPnl: -200, Reason: types.ExitStopLoss},
	}
	l.Restore(saved, savedHistory, 9_500)

	if !l.HasOpen("BTCUSDT") {
		t.Fatal("open position not restored")
	}
	if l.HasOpen("OLD") {
		t.Fatal("closed record must not be restored")
	}
	if l.Capital() != 9_500 {
		t.Fatalf("capital=%v", l.Capital())
	}
	if got := l.History(); len(got) != 2 || got[0].ID != "t1" {
		t.Fatalf("history not restored: %+v", got)
	}
	if s := l.Summary(); s.TotalRealizedPnl != -500 {
		t.Fatalf("realized total not rebuilt from history: %+v", s)
	}

	// The restored position still exits normally.
	l.OnPriceTick("BTCUSDT", 97, time.Now())
	if l.HasOpen("BTCUSDT") {
		t.Fatal("restored position must honor its stops")
	}
}

func TestConcurrentTicksAndCloses(t *testing.T) {
	l, _, _ := newLedger(t)
	mustOpen(t, l, "BTCUSDT", types.Long, types.Stops{StopLoss: 1, TakeProfit: 10_000})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			l.OnPriceTick("BTCUSDT", 100+float64(i%5), time.Now())
		}
		close(done)
	}()
	for i := 0; i < 500; i++ {
		l.Summary()
		l.OpenPositions()
	}
	<-done

	// Exactly one close, via the manual path.
	if _, err := l.Close("BTCUSDT", 100, "", time.Now()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if len(l.History()) != 1 {
		t.Fatalf("history len=%d", len(l.History()))
	}
}
