package gate

import (
	"github.com/evdnx/gotd/config"
	"github.com/evdnx/gotd/pattern"
	"github.com/evdnx/gotd/types"
)

// Gate decides whether a fresh occurrence of a signal pattern is allowed
// to trade. It is read-only against the pattern memory: the caller records
// the outcome after the trade resolves. Absence of history resolves to
// approve (fail-open exploration) so new patterns can accumulate
// statistics; set explore_unseen: false in the config for conservative
// behavior.
type Gate struct {
	cfg config.EngineConfig
	mem *pattern.Memory
}

func New(cfg config.EngineConfig, mem *pattern.Memory) *Gate {
	return &Gate{cfg: cfg, mem: mem}
}

// Evaluate runs the single-decision state machine: Evaluating ->
// Approved | Rejected(reason). Nothing is persisted between calls.
func (g *Gate) Evaluate(signals []types.Signal) types.TradeDecision {
	if len(signals) < g.cfg.MinSignals {
		return reject(types.ReasonTooFewSignals, "")
	}

	key := pattern.Identify(signals)
	stats, seen := g.mem.Stats(key)
	if !seen || stats.Total() == 0 {
		if !g.cfg.Explore() {
			return reject(types.ReasonUnseenPattern, key)
		}
		return approve(key)
	}

	if stats.Total() >= g.cfg.MinSampleSize {
		rate, _ := stats.WinRate()
		if rate < g.cfg.MinWinRate {
			return reject(types.ReasonLowWinRate, key)
		}
		if stats.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses {
			return reject(types.ReasonConsecutiveLosses, key)
		}
	}
	// Seen but below sample size: still exploring.
	return approve(key)
}

func approve(key pattern.Key) types.TradeDecision {
	return types.TradeDecision{Approved: true, Pattern: string(key)}
}

func reject(reason types.RejectReason, key pattern.Key) types.TradeDecision {
	return types.TradeDecision{Reason: reason, Pattern: string(key)}
}
