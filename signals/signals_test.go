package signals

import (
	"math"
	"testing"

	"github.com/evdnx/gotd/types"
)

func has(sigs []types.Signal, want types.Signal) bool {
	for _, s := range sigs {
		if s == want {
			return true
		}
	}
	return false
}

func TestClassifyOscillators(t *testing.T) {
	th := DefaultThresholds()

	sigs := classify(readout{rsi: 75, mfi: 50}, th)
	if !has(sigs, types.SignalRSIOverbought) {
		t.Fatalf("missing RSI overbought: %v", sigs)
	}
	sigs = classify(readout{rsi: 25, mfi: 15}, th)
	if !has(sigs, types.SignalRSIOversold) || !has(sigs, types.SignalMFIOversold) {
		t.Fatalf("missing oversold labels: %v", sigs)
	}
	// Neutral midpoints emit nothing.
	if sigs := classify(readout{rsi: 50, mfi: 50}, th); len(sigs) != 0 {
		t.Fatalf("neutral readout must be silent: %v", sigs)
	}
}

func TestClassifyMomentumAndTrend(t *testing.T) {
	th := DefaultThresholds()
	sigs := classify(readout{rsi: 50, mfi: 50, momoBull: true, trend: 1}, th)
	if !has(sigs, types.SignalMomentumBull) || !has(sigs, types.SignalTrendUp) {
		t.Fatalf("missing bull labels: %v", sigs)
	}
	// Contradictory crossovers cancel out.
	sigs = classify(readout{rsi: 50, mfi: 50, momoBull: true, momoBear: true}, th)
	if has(sigs, types.SignalMomentumBull) || has(sigs, types.SignalMomentumBear) {
		t.Fatalf("contradictory momentum leaked: %v", sigs)
	}
}

func TestClassifyVolumeSurge(t *testing.T) {
	th := DefaultThresholds()
	sigs := classify(readout{rsi: 50, mfi: 50, volume: 200, avgVolume: 100}, th)
	if !has(sigs, types.SignalVolumeSurge) {
		t.Fatalf("missing volume surge: %v", sigs)
	}
	sigs = classify(readout{rsi: 50, mfi: 50, volume: 120, avgVolume: 100}, th)
	if has(sigs, types.SignalVolumeSurge) {
		t.Fatalf("1.2x volume is not a surge: %v", sigs)
	}
}

func TestStrengthNetsBullAgainstBear(t *testing.T) {
	bull := []types.Signal{types.SignalRSIOversold, types.SignalTrendUp,
		types.SignalMomentumBull}
	if s := strength(bull, 0); s <= 0 {
		t.Fatalf("bull set must be positive, got %v", s)
	}
	bear := []types.Signal{types.SignalRSIOverbought, types.SignalTrendDown}
	if s := strength(bear, 0); s >= 0 {
		t.Fatalf("bear set must be negative, got %v", s)
	}
	mixed := []types.Signal{types.SignalRSIOversold, types.SignalTrendDown}
	if s := strength(mixed, 1); s != 0.125 { // tie broken by slope: 0.5/4
		t.Fatalf("tie-break wrong: %v", s)
	}
}

func TestStrengthBounded(t *testing.T) {
	all := []types.Signal{
		types.SignalRSIOversold, types.SignalMFIOversold,
		types.SignalMomentumBull, types.SignalTrendUp, types.SignalVolumeSurge,
	}
	s := strength(all, 1)
	if s < -1 || s > 1 {
		t.Fatalf("strength out of bounds: %v", s)
	}
	if s != 1 {
		t.Fatalf("four bull labels with surge must saturate, got %v", s)
	}
}

func TestPriceBufferTrend(t *testing.T) {
	b := newPriceBuffer(16)
	for i := 0; i < 10; i++ {
		b.Add(100 + float64(i))
	}
	if b.Trend() != 1 {
		t.Fatalf("rising series trend=%d", b.Trend())
	}
	if b.Slope() <= 0 {
		t.Fatalf("rising series slope=%v", b.Slope())
	}

	b = newPriceBuffer(16)
	for i := 0; i < 10; i++ {
		b.Add(100 - float64(i))
	}
	if b.Trend() != -1 {
		t.Fatalf("falling series trend=%d", b.Trend())
	}
}

func TestPriceBufferVolatility(t *testing.T) {
	b := newPriceBuffer(16)
	for _, v := range []float64{100, 102, 100, 102, 100} {
		b.Add(v)
	}
	if vol := b.Volatility(); math.Abs(vol-2) > 1e-9 {
		t.Fatalf("volatility=%v, want 2", vol)
	}
}

func TestProviderWarmupAndSnapshot(t *testing.T) {
	p, err := NewProvider("BTCUSDT", DefaultThresholds(), nil)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	price := 100.0
	var snap Snapshot
	for i := 0; i < 40; i++ {
		price += 0.5
		snap, err = p.ProcessBar(price+0.5, price-0.5, price, 1_000)
		if err != nil {
			t.Fatalf("ProcessBar failed at bar %d: %v", i, err)
		}
		if i < warmupBars-1 && snap.Ready {
			t.Fatalf("ready before warm-up at bar %d", i)
		}
	}
	if !snap.Ready {
		t.Fatal("provider never became ready")
	}
	if snap.Context.Price != price {
		t.Fatalf("context price=%v, want %v", snap.Context.Price, price)
	}
	if snap.Context.ATR <= 0 {
		t.Fatalf("ATR must be positive, got %v", snap.Context.ATR)
	}
	if snap.Context.Volatility < 0 || math.IsNaN(snap.Context.Volatility) {
		t.Fatalf("bad volatility %v", snap.Context.Volatility)
	}
	if snap.Context.SignalStrength < -1 || snap.Context.SignalStrength > 1 {
		t.Fatalf("strength out of bounds: %v", snap.Context.SignalStrength)
	}
	// Whatever fired, it must come from the known vocabulary.
	known := map[types.Signal]bool{
		types.SignalRSIOversold: true, types.SignalRSIOverbought: true,
		types.SignalMFIOversold: true, types.SignalMFIOverbought: true,
		types.SignalMomentumBull: true, types.SignalMomentumBear: true,
		types.SignalTrendUp: true, types.SignalTrendDown: true,
		types.SignalVolumeSurge: true,
	}
	for _, s := range snap.Signals {
		if !known[s] {
			t.Fatalf("unknown label %q", s)
		}
	}
}
