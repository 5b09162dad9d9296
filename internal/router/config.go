package router

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"clawsentry/internal/budget"
)

// Provider is one upstream LLM endpoint the router may forward to.
type Provider struct {
	Name    string
	Type    string // anthropic | openai
	BaseURL string
	APIKey  string
}

// TierModel is one provider+model candidate within a tier, tried in order.
type TierModel struct {
	Provider    string
	Model       string
	ExtraParams map[string]any
}

// Classifier holds the tier thresholds: N-1 descending thresholds for N
// tiers; a score above thresholds[i] maps to tierOrder[i].
type Classifier struct {
	Thresholds      []float64
	HeuristicBypass bool
}

// Config is the loaded router configuration. TierOrder preserves the YAML
// key order, highest tier first.
type Config struct {
	Enabled     bool
	DefaultTier string
	Providers   map[string]Provider
	Tiers       map[string][]TierModel
	TierOrder   []string
	Classifier  Classifier
	Budgets     budget.Config
}

type rawConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	DefaultTier string `yaml:"default_tier"`
	Providers   map[string]struct {
		Type    string `yaml:"type"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"providers"`
	Classifier struct {
		Thresholds      []float64 `yaml:"thresholds"`
		HeuristicBypass *bool     `yaml:"heuristic_bypass"`
	} `yaml:"classifier"`
	Tiers   yaml.Node `yaml:"tiers"`
	Budgets struct {
		Hourly               *rawWindow `yaml:"hourly"`
		Daily                *rawWindow `yaml:"daily"`
		Monthly              *rawWindow `yaml:"monthly"`
		DowngradeSteps       int        `yaml:"downgrade_steps"`
		OverBudgetAction     string     `yaml:"over_budget_action"`
		MaxPushWithinMinutes int        `yaml:"max_push_within_minutes"`
		MaxPushTier          string     `yaml:"max_push_tier"`
	} `yaml:"budgets"`
}

type rawWindow struct {
	LimitUSD       float64 `yaml:"limit_usd"`
	WarnAtPct      *int    `yaml:"warn_at_pct"`
	DowngradeAtPct *int    `yaml:"downgrade_at_pct"`
}

type rawTierModel struct {
	Provider    string         `yaml:"provider"`
	Model       string         `yaml:"model"`
	ExtraParams map[string]any `yaml:"extra_params"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig reads and validates the YAML router config, interpolating
// ${ENV_VAR} placeholders. A missing or invalid file returns nil (not an
// error): the proxy then runs in legacy pass-through mode.
func LoadConfig(path string, logger *slog.Logger) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Info("router config not found, smart routing disabled", "path", path)
		return nil
	}
	data = interpolateEnv(data, logger)

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		logger.Error("parse router config", "path", path, "err", err)
		return nil
	}

	cfg := &Config{
		Enabled:     raw.Enabled == nil || *raw.Enabled,
		DefaultTier: raw.DefaultTier,
		Providers:   map[string]Provider{},
		Tiers:       map[string][]TierModel{},
		Classifier: Classifier{
			Thresholds:      raw.Classifier.Thresholds,
			HeuristicBypass: raw.Classifier.HeuristicBypass == nil || *raw.Classifier.HeuristicBypass,
		},
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = "tier1"
	}

	for name, p := range raw.Providers {
		ptype := p.Type
		if ptype == "" {
			ptype = "openai"
		}
		cfg.Providers[name] = Provider{
			Name:    name,
			Type:    ptype,
			BaseURL: strings.TrimRight(p.BaseURL, "/"),
			APIKey:  p.APIKey,
		}
	}

	if err := decodeTiers(&raw.Tiers, cfg); err != nil {
		logger.Error("parse router tiers", "err", err)
		return nil
	}

	cfg.Budgets = budget.Config{
		DowngradeSteps:       raw.Budgets.DowngradeSteps,
		OverBudgetAction:     raw.Budgets.OverBudgetAction,
		MaxPushWithinMinutes: raw.Budgets.MaxPushWithinMinutes,
		MaxPushTier:          raw.Budgets.MaxPushTier,
		Hourly:               window(raw.Budgets.Hourly),
		Daily:                window(raw.Budgets.Daily),
		Monthly:              window(raw.Budgets.Monthly),
	}

	if want := len(cfg.TierOrder) - 1; want >= 0 && len(cfg.Classifier.Thresholds) != want {
		logger.Warn("classifier threshold count does not match tier count",
			"thresholds", len(cfg.Classifier.Thresholds), "tiers", len(cfg.TierOrder))
	}
	for tierName, tms := range cfg.Tiers {
		for _, tm := range tms {
			if _, ok := cfg.Providers[tm.Provider]; !ok {
				logger.Warn("tier references unknown provider", "tier", tierName, "provider", tm.Provider)
			}
		}
	}

	logger.Info("router config loaded",
		"providers", len(cfg.Providers),
		"tiers", strings.Join(cfg.TierOrder, ","))
	return cfg
}

// decodeTiers walks the tiers mapping node directly so the YAML key order
// is preserved for TierOrder.
func decodeTiers(node *yaml.Node, cfg *Config) error {
	if node.Kind == 0 || node.Kind == yaml.ScalarNode {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("tiers must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var rawModels []rawTierModel
		if err := node.Content[i+1].Decode(&rawModels); err != nil {
			continue
		}
		var tms []TierModel
		for _, rm := range rawModels {
			if rm.Provider == "" || rm.Model == "" {
				continue
			}
			tms = append(tms, TierModel{Provider: rm.Provider, Model: rm.Model, ExtraParams: rm.ExtraParams})
		}
		cfg.Tiers[name] = tms
		cfg.TierOrder = append(cfg.TierOrder, name)
	}
	return nil
}

func window(w *rawWindow) *budget.Window {
	if w == nil {
		return nil
	}
	out := &budget.Window{LimitUSD: w.LimitUSD, WarnAtPct: 80, DowngradeAtPct: 90}
	if w.WarnAtPct != nil {
		out.WarnAtPct = *w.WarnAtPct
	}
	if w.DowngradeAtPct != nil {
		out.DowngradeAtPct = *w.DowngradeAtPct
	}
	return out
}

func interpolateEnv(data []byte, logger *slog.Logger) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		val := os.Getenv(name)
		if val == "" {
			logger.Warn("environment variable not set", "name", name)
		}
		return []byte(val)
	})
}

// ResolveTarget picks the first usable provider+model for a tier, skipping
// excluded or keyless providers and providers whose API format differs
// from clientFormat (cross-format translation is not supported).
func (c *Config) ResolveTarget(tier, clientFormat string, exclude map[string]bool) (Provider, TierModel, bool) {
	for _, tm := range c.Tiers[tier] {
		if exclude[tm.Provider] {
			continue
		}
		p, ok := c.Providers[tm.Provider]
		if !ok || p.APIKey == "" {
			continue
		}
		if clientFormat != "" && p.Type != clientFormat {
			continue
		}
		return p, tm, true
	}
	return Provider{}, TierModel{}, false
}

// DowngradeTier moves a tier down by steps, clamped at the lowest tier.
func (c *Config) DowngradeTier(tier string, steps int) string {
	if len(c.TierOrder) == 0 {
		return tier
	}
	idx := -1
	for i, t := range c.TierOrder {
		if t == tier {
			idx = i
			break
		}
	}
	if idx < 0 {
		return tier
	}
	idx += steps
	if idx > len(c.TierOrder)-1 {
		idx = len(c.TierOrder) - 1
	}
	return c.TierOrder[idx]
}

// LowestTier returns the cheapest tier name.
func (c *Config) LowestTier() string {
	if len(c.TierOrder) > 0 {
		return c.TierOrder[len(c.TierOrder)-1]
	}
	return c.DefaultTier
}
