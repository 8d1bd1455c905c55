// Package signals converts OHLCV bars into the discrete signal vocabulary
// the decision engine consumes, plus the per-bar market context (ATR,
// volatility, signal strength). It is the in-repo reference implementation
// of the "signal provider" collaborator; any producer of types.Signal
// slices can replace it.
package signals

import (
	"math"

	"github.com/evdnx/goti"
	"github.com/pkg/errors"

	"github.com/evdnx/gotd/logger"
	"github.com/evdnx/gotd/types"
)

// Thresholds for mapping indicator readouts onto labels.
type Thresholds struct {
	RSIOverbought   float64 // default 70
	RSIOversold     float64 // default 30
	MFIOverbought   float64 // default 80
	MFIOversold     float64 // default 20
	VolumeSurgeMult float64 // default 1.5 x average volume
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOverbought:   70,
		RSIOversold:     30,
		MFIOverbought:   80,
		MFIOversold:     20,
		VolumeSurgeMult: 1.5,
	}
}

// Snapshot is one bar's worth of provider output. Ready stays false during
// indicator warm-up; the engine should not evaluate trades until it flips.
type Snapshot struct {
	Ready   bool
	Signals []types.Signal
	Context types.MarketContext
}

// Provider owns a goti indicator suite per symbol and derives labels from
// its readouts each bar.
type Provider struct {
	symbol  string
	th      Thresholds
	suite   *goti.IndicatorSuite
	prices  *priceBuffer
	volumes *priceBuffer
	log     logger.Logger
}

const warmupBars = 15

func NewProvider(symbol string, th Thresholds, log logger.Logger) (*Provider, error) {
	if log == nil {
		log = logger.NewNop()
	}
	ic := goti.DefaultConfig()
	ic.RSIOverbought = th.RSIOverbought
	ic.RSIOversold = th.RSIOversold
	ic.MFIOverbought = th.MFIOverbought
	ic.MFIOversold = th.MFIOversold
	suite, err := goti.NewIndicatorSuiteWithConfig(ic)
	if err != nil {
		return nil, errors.Wrap(err, "signals: indicator suite")
	}
	return &Provider{
		symbol:  symbol,
		th:      th,
		suite:   suite,
		prices:  newPriceBuffer(64),
		volumes: newPriceBuffer(32),
		log:     log,
	}, nil
}

// ProcessBar feeds one bar to the suite and classifies the result.
func (p *Provider) ProcessBar(high, low, close, volume float64) (Snapshot, error) {
	if err := p.suite.Add(high, low, close, volume); err != nil {
		p.log.Warn("suite_add_error", logger.String("symbol", p.symbol), logger.Err(err))
		return Snapshot{}, errors.Wrap(err, "signals: add bar")
	}
	p.prices.Add(close)
	p.volumes.Add(volume)

	if p.prices.Len() < warmupBars {
		return Snapshot{}, nil
	}

	read := p.readout(close)
	sigs := classify(read, p.th)
	ctx := types.MarketContext{
		Price:          close,
		ATR:            read.atr,
		Volatility:     read.volatility,
		SignalStrength: strength(sigs, p.prices.Slope()),
	}
	return Snapshot{Ready: true, Signals: sigs, Context: ctx}, nil
}

// readout gathers the raw values once per bar so classification stays a
// pure function.
type readout struct {
	rsi, mfi   float64
	momoBull   bool
	momoBear   bool
	trend      int
	volume     float64
	avgVolume  float64
	atr        float64
	volatility float64
}

func (p *Provider) readout(close float64) readout {
	r := readout{trend: p.prices.Trend()}

	// Oscillators degrade to neutral midpoints when the suite cannot
	// produce a value yet.
	r.rsi = 50
	if v, err := p.suite.GetRSI().Calculate(); err == nil {
		r.rsi = v
	}
	r.mfi = 50
	if v, err := p.suite.GetMFI().Calculate(); err == nil {
		r.mfi = v
	}
	if ok, err := p.suite.GetHMA().IsBullishCrossover(); err == nil {
		r.momoBull = ok
	}
	if ok, err := p.suite.GetHMA().IsBearishCrossover(); err == nil {
		r.momoBear = ok
	}

	r.volume = p.volumes.Last()
	r.avgVolume = avg(p.volumes)

	r.atr = p.sanitizedATR(close)
	if close > 0 {
		r.volatility = r.atr / close
	}
	return r
}

// sanitizedATR prefers the suite's ATSO-derived range but falls back to
// swing volatility when the readout is unusable (NaN, zero, or wildly out
// of scale for the price).
func (p *Provider) sanitizedATR(price float64) float64 {
	if price <= 0 {
		price = 1
	}
	raw := 0.0
	if vals := p.suite.GetATSO().GetATSOValues(); len(vals) > 0 {
		raw = vals[len(vals)-1]
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 || raw > price*0.1 {
		fallback := p.prices.Volatility()
		if fallback <= 0 {
			fallback = price * 0.02
		}
		return math.Max(fallback, 0.0001)
	}
	return raw
}

// classify maps one bar's readout onto the signal vocabulary.
func classify(r readout, th Thresholds) []types.Signal {
	var out []types.Signal

	switch {
	case r.rsi >= th.RSIOverbought:
		out = append(out, types.SignalRSIOverbought)
	case r.rsi <= th.RSIOversold:
		out = append(out, types.SignalRSIOversold)
	}
	switch {
	case r.mfi >= th.MFIOverbought:
		out = append(out, types.SignalMFIOverbought)
	case r.mfi <= th.MFIOversold:
		out = append(out, types.SignalMFIOversold)
	}
	if r.momoBull && !r.momoBear {
		out = append(out, types.SignalMomentumBull)
	}
	if r.momoBear && !r.momoBull {
		out = append(out, types.SignalMomentumBear)
	}
	switch r.trend {
	case 1:
		out = append(out, types.SignalTrendUp)
	case -1:
		out = append(out, types.SignalTrendDown)
	}
	if r.avgVolume > 0 && r.volume > r.avgVolume*th.VolumeSurgeMult {
		out = append(out, types.SignalVolumeSurge)
	}
	return out
}

// strength nets bullish against bearish labels and scales to [-1, 1].
// VOLUME_SURGE is direction-neutral and only amplifies. The slope sign
// breaks a dead-even tie.
func strength(sigs []types.Signal, slope float64) float64 {
	score := 0.0
	surge := false
	for _, s := range sigs {
		switch s {
		case types.SignalRSIOversold, types.SignalMFIOversold,
			types.SignalMomentumBull, types.SignalTrendUp:
			score++
		case types.SignalRSIOverbought, types.SignalMFIOverbought,
			types.SignalMomentumBear, types.SignalTrendDown:
			score--
		case types.SignalVolumeSurge:
			surge = true
		}
	}
	if score == 0 {
		if slope > 0 {
			score = 0.5
		} else if slope < 0 {
			score = -0.5
		}
	}
	s := score / 4
	if surge {
		s *= 1.25
	}
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	return s
}

func avg(b *priceBuffer) float64 {
	if b.Len() == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.buf {
		sum += v
	}
	return sum / float64(b.Len())
}
