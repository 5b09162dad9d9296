package budget

import (
	"log/slog"
	"sync"
	"time"

	"clawsentry/internal/models"
)

// Window bounds spending over one rolling interval.
type Window struct {
	LimitUSD       float64
	WarnAtPct      int
	DowngradeAtPct int
}

// Config holds the budget windows and the behavior once a limit is hit.
type Config struct {
	Hourly  *Window
	Daily   *Window
	Monthly *Window

	DowngradeSteps       int
	OverBudgetAction     string // allow | reject
	MaxPushWithinMinutes int
	MaxPushTier          string
}

// Ledger persists cost entries across restarts. The sqlite repository
// implements it; a nil ledger keeps the manager purely in-memory.
type Ledger interface {
	InsertCostEntry(e models.CostEntry) error
	LoadCostEntries(since time.Time) ([]models.CostEntry, error)
}

// Manager tracks rolling-window spend and signals when the router should
// downgrade tiers.
type Manager struct {
	cfg    Config
	ledger Ledger
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []models.CostEntry
}

const retainWindow = 31 * 24 * time.Hour

func NewManager(cfg Config, ledger Ledger, logger *slog.Logger) *Manager {
	if cfg.OverBudgetAction == "" {
		cfg.OverBudgetAction = "allow"
	}
	if cfg.DowngradeSteps <= 0 {
		cfg.DowngradeSteps = 1
	}
	if cfg.MaxPushWithinMinutes <= 0 {
		cfg.MaxPushWithinMinutes = 15
	}
	m := &Manager{cfg: cfg, ledger: ledger, log: logger, now: time.Now}
	if ledger != nil {
		entries, err := ledger.LoadCostEntries(m.now().Add(-retainWindow))
		if err != nil {
			logger.Warn("load cost history", "err", err)
		} else {
			m.entries = entries
		}
	}
	return m
}

// RecordCost prices and records one upstream call, returning the cost.
func (m *Manager) RecordCost(model string, inputTokens, outputTokens int64) float64 {
	cost := Cost(model, inputTokens, outputTokens)
	entry := models.CostEntry{
		Timestamp:    m.now().UTC(),
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
	}
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.prune()
	m.mu.Unlock()

	if m.ledger != nil {
		if err := m.ledger.InsertCostEntry(entry); err != nil {
			m.log.Warn("persist cost entry", "err", err)
		}
	}
	return cost
}

// prune drops entries older than the longest window. Caller holds mu.
func (m *Manager) prune() {
	cutoff := m.now().Add(-retainWindow)
	i := 0
	for i < len(m.entries) && m.entries[i].Timestamp.Before(cutoff) {
		i++
	}
	m.entries = m.entries[i:]
}

func (m *Manager) windowSpend(window time.Duration) float64 {
	cutoff := m.now().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, e := range m.entries {
		if !e.Timestamp.Before(cutoff) {
			sum += e.CostUSD
		}
	}
	return sum
}

func (m *Manager) HourlySpend() float64  { return m.windowSpend(time.Hour) }
func (m *Manager) DailySpend() float64   { return m.windowSpend(24 * time.Hour) }
func (m *Manager) MonthlySpend() float64 { return m.windowSpend(30 * 24 * time.Hour) }

func (m *Manager) checks() []struct {
	w     *Window
	spend float64
} {
	return []struct {
		w     *Window
		spend float64
	}{
		{m.cfg.Hourly, m.HourlySpend()},
		{m.cfg.Daily, m.DailySpend()},
		{m.cfg.Monthly, m.MonthlySpend()},
	}
}

// ShouldDowngrade reports whether any window crossed its downgrade
// threshold.
func (m *Manager) ShouldDowngrade() bool {
	for _, c := range m.checks() {
		if c.w == nil {
			continue
		}
		if c.spend >= c.w.LimitUSD*float64(c.w.DowngradeAtPct)/100 {
			return true
		}
	}
	return false
}

// IsWarning reports whether any window crossed its warning threshold.
func (m *Manager) IsWarning() bool {
	for _, c := range m.checks() {
		if c.w == nil {
			continue
		}
		if c.spend >= c.w.LimitUSD*float64(c.w.WarnAtPct)/100 {
			return true
		}
	}
	return false
}

// IsOverBudget reports whether any window exceeded its hard limit.
func (m *Manager) IsOverBudget() bool {
	for _, c := range m.checks() {
		if c.w == nil {
			continue
		}
		if c.spend >= c.w.LimitUSD {
			return true
		}
	}
	return false
}

func (m *Manager) OverBudgetAction() string { return m.cfg.OverBudgetAction }
func (m *Manager) DowngradeSteps() int      { return m.cfg.DowngradeSteps }

// Status summarizes every configured window for the status endpoint.
func (m *Manager) Status() map[string]any {
	result := map[string]any{
		"should_downgrade":   m.ShouldDowngrade(),
		"is_warning":         m.IsWarning(),
		"over_budget":        m.IsOverBudget(),
		"over_budget_action": m.cfg.OverBudgetAction,
	}
	windows := []struct {
		name  string
		w     *Window
		spend float64
	}{
		{"hourly", m.cfg.Hourly, m.HourlySpend()},
		{"daily", m.cfg.Daily, m.DailySpend()},
		{"monthly", m.cfg.Monthly, m.MonthlySpend()},
	}
	for _, win := range windows {
		if win.w == nil {
			continue
		}
		pct := 0.0
		if win.w.LimitUSD > 0 {
			pct = win.spend / win.w.LimitUSD * 100
		}
		result[win.name] = map[string]any{
			"spend_usd": win.spend,
			"limit_usd": win.w.LimitUSD,
			"pct":       pct,
		}
	}
	return result
}
