package pattern

import (
	"sort"
	"strings"
	"sync"

	"github.com/evdnx/gotd/types"
)

// Key is the canonical, order-independent identity of a set of signals.
// Two evaluations with the same signals always produce the same Key.
type Key string

const separator = "|"

// Identify canonicalizes a signal set: sorted, deduplicated, joined.
// Pure function; an empty set yields the empty Key.
func Identify(signals []types.Signal) Key {
	if len(signals) == 0 {
		return ""
	}
	labels := make([]string, 0, len(signals))
	seen := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		l := string(s)
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return Key(strings.Join(labels, separator))
}

// Signals splits a Key back into its labels. Mostly for reports.
func (k Key) Signals() []types.Signal {
	if k == "" {
		return nil
	}
	parts := strings.Split(string(k), separator)
	out := make([]types.Signal, len(parts))
	for i, p := range parts {
		out[i] = types.Signal(p)
	}
	return out
}

type Outcome int

const (
	Unknown Outcome = iota
	Win
	Loss
)

// Stats is the per-pattern bookkeeping. Wins+Losses always equals the
// number of recorded outcomes; Recent holds the last N realized returns,
// oldest first.
type Stats struct {
	Wins              uint      `json:"wins"`
	Losses            uint      `json:"losses"`
	ConsecutiveLosses uint      `json:"consecutive_losses"`
	LastResult        Outcome   `json:"last_result"`
	Recent            []float64 `json:"recent"`
}

// Total returns the number of recorded outcomes.
func (s *Stats) Total() uint { return s.Wins + s.Losses }

// WinRate returns wins/total; ok is false when nothing was recorded, so
// callers can tell "unseen" apart from "0% win rate".
func (s *Stats) WinRate() (rate float64, ok bool) {
	total := s.Total()
	if total == 0 {
		return 0, false
	}
	return float64(s.Wins) / float64(total), true
}

// AvgRecent is the mean of the recent-outcome window, 0 when empty.
func (s *Stats) AvgRecent() float64 {
	if len(s.Recent) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range s.Recent {
		sum += r
	}
	return sum / float64(len(s.Recent))
}

// Memory maps canonical signal patterns to their historical outcomes.
// Stats live in a dense arena indexed by Key, so repeated lookups touch a
// single slice slot instead of churning per-pattern allocations. Patterns
// are never evicted; processes expecting unbounded vocabularies should
// snapshot and rotate externally.
type Memory struct {
	mu     sync.RWMutex
	window int
	index  map[Key]int
	arena  []Stats
}

// NewMemory creates an empty memory. window bounds the recent-outcome
// FIFO per pattern; values below 1 fall back to 5.
func NewMemory(window int) *Memory {
	if window < 1 {
		window = 5
	}
	return &Memory{
		window: window,
		index:  make(map[Key]int),
	}
}

// RecordOutcome registers a realized return for a pattern, creating the
// stats slot on first sight. profit > 0 counts as a win. A loss increments
// the consecutive-loss streak only when the previous recorded outcome was
// also a loss; a loss after a win (or after nothing) starts a streak of 1.
func (m *Memory) RecordOutcome(k Key, profit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.index[k]
	if !ok {
		idx = len(m.arena)
		m.arena = append(m.arena, Stats{})
		m.index[k] = idx
	}
	s := &m.arena[idx]

	if profit > 0 {
		s.Wins++
		s.ConsecutiveLosses = 0
		s.LastResult = Win
	} else {
		s.Losses++
		if s.LastResult == Loss {
			s.ConsecutiveLosses++
		} else {
			s.ConsecutiveLosses = 1
		}
		s.LastResult = Loss
	}

	s.Recent = append(s.Recent, profit)
	if len(s.Recent) > m.window {
		s.Recent = s.Recent[len(s.Recent)-m.window:]
	}
}

// Stats returns a copy of the pattern's bookkeeping; ok is false for
// patterns never recorded.
func (m *Memory) Stats(k Key) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.index[k]
	if !ok {
		return Stats{}, false
	}
	s := m.arena[idx]
	s.Recent = append([]float64(nil), s.Recent...)
	return s, true
}

// WinRate returns the pattern's historical win rate. known is false when
// the pattern has no recorded outcomes; treat that as neutral, not as 0%.
func (m *Memory) WinRate(k Key) (rate float64, known bool) {
	s, ok := m.Stats(k)
	if !ok {
		return 0, false
	}
	return s.WinRate()
}

// Len returns the number of distinct patterns tracked.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

// ReportEntry is one row of the observability report.
type ReportEntry struct {
	Pattern           Key     `json:"pattern"`
	Wins              uint    `json:"wins"`
	Losses            uint    `json:"losses"`
	WinRate           float64 `json:"win_rate"`
	ConsecutiveLosses uint    `json:"consecutive_losses"`
	AvgRecent         float64 `json:"avg_recent"`
}

// Report lists every tracked pattern sorted by observation count, busiest
// first. Intended for dashboards; not on any hot path.
func (m *Memory) Report() []ReportEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ReportEntry, 0, len(m.index))
	for k, idx := range m.index {
		s := m.arena[idx]
		rate, _ := s.WinRate()
		out = append(out, ReportEntry{
			Pattern:           k,
			Wins:              s.Wins,
			Losses:            s.Losses,
			WinRate:           rate,
			ConsecutiveLosses: s.ConsecutiveLosses,
			AvgRecent:         s.AvgRecent(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Wins+out[i].Losses, out[j].Wins+out[j].Losses
		if ti != tj {
			return ti > tj
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Snapshot exports the full table for persistence.
func (m *Memory) Snapshot() map[Key]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Key]Stats, len(m.index))
	for k, idx := range m.index {
		s := m.arena[idx]
		s.Recent = append([]float64(nil), s.Recent...)
		out[k] = s
	}
	return out
}

// Restore replaces the table with a previously snapshotted one.
func (m *Memory) Restore(table map[Key]Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.index = make(map[Key]int, len(table))
	m.arena = m.arena[:0]
	for k, s := range table {
		if len(s.Recent) > m.window {
			s.Recent = s.Recent[len(s.Recent)-m.window:]
		}
		m.index[k] = len(m.arena)
		m.arena = append(m.arena, s)
	}
}
