package types

import "time"

// Signal is a discrete technical-analysis observation, e.g. "RSI_OVERSOLD".
// The vocabulary is open: the gate and pattern memory treat signals as
// opaque labels.
type Signal string

// Built-in vocabulary emitted by the signals.Provider. Callers may add
// their own labels; nothing below is special-cased anywhere.
const (
	SignalRSIOversold   Signal = "RSI_OVERSOLD"
	SignalRSIOverbought Signal = "RSI_OVERBOUGHT"
	SignalMFIOversold   Signal = "MFI_OVERSOLD"
	SignalMFIOverbought Signal = "MFI_OVERBOUGHT"
	SignalMomentumBull  Signal = "MOMENTUM_BULL"
	SignalMomentumBear  Signal = "MOMENTUM_BEAR"
	SignalTrendUp       Signal = "TREND_UP"
	SignalTrendDown     Signal = "TREND_DOWN"
	SignalVolumeSurge   Signal = "VOLUME_SURGE"
)

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Order is what the engine hands to the execution collaborator.
type Order struct {
	Symbol string
	Side   OrderSide
	Qty    float64
	Price  float64 // limit price; 0 = market
	// meta
	Comment string
}

type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// Stops bundles the protective price levels derived at entry.
type Stops struct {
	StopLoss      float64 `json:"stop_loss"`
	EmergencyStop float64 `json:"emergency_stop"`
	TakeProfit    float64 `json:"take_profit"`
	TrailingStep  float64 `json:"trailing_step"` // 0 = trailing disabled
}

// Position is owned by the ledger while open. On close it is converted
// into a TradeRecord and never reopened.
type Position struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	Side          Side           `json:"side"`
	EntryPrice    float64        `json:"entry_price"`
	Quantity      float64        `json:"quantity"`
	EntryTime     time.Time      `json:"entry_time"`
	Stops         Stops          `json:"stops"`
	UnrealizedPnl float64        `json:"unrealized_pnl"`
	Pattern       string         `json:"pattern"` // pattern key recorded at entry
	Status        PositionStatus `json:"status"`
}

// Notional returns the position value at the given mark price.
func (p *Position) Notional(price float64) float64 {
	return p.Quantity * price
}

// ExitReason says which condition closed a position.
type ExitReason string

const (
	ExitEmergencyStop ExitReason = "emergency_stop"
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTakeProfit    ExitReason = "take_profit"
	ExitManual        ExitReason = "manual"
)

// TradeRecord is the immutable history entry produced when a position
// closes.
type TradeRecord struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Side        Side       `json:"side"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Quantity    float64    `json:"quantity"`
	RealizedPnl float64    `json:"realized_pnl"`
	Reason      ExitReason `json:"reason"`
	Pattern     string     `json:"pattern"`
	EntryTime   time.Time  `json:"entry_time"`
	ExitTime    time.Time  `json:"exit_time"`
}

// RejectReason enumerates why a trade decision was denied.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonTooFewSignals     RejectReason = "too_few_signals"
	ReasonUnseenPattern     RejectReason = "unseen_pattern"
	ReasonLowWinRate        RejectReason = "low_win_rate"
	ReasonConsecutiveLosses RejectReason = "consecutive_losses"
	ReasonInsufficientSize  RejectReason = "insufficient_size"
	ReasonOrderRejected     RejectReason = "order_rejected"
	ReasonRateLimited       RejectReason = "rate_limited"
	ReasonExposureLimit     RejectReason = "exposure_limit"
	ReasonDrawdownLimit     RejectReason = "drawdown_limit"
	ReasonRiskScore         RejectReason = "risk_score"
	ReasonPositionOpen      RejectReason = "position_already_open"
	ReasonInvalidInput      RejectReason = "invalid_input"
)

// TradeDecision is ephemeral: produced per evaluation, never persisted.
type TradeDecision struct {
	Approved bool
	Reason   RejectReason
	Pattern  string
	Quantity float64 // 0 unless approved
	Stops    Stops
}

// MarketContext carries the per-tick measurements the risk engine needs,
// produced by the signal provider or any external ATR/volatility source.
type MarketContext struct {
	Price          float64
	ATR            float64
	Volatility     float64
	SignalStrength float64 // [-1, 1]
}
