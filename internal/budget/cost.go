package budget

import "strings"

// modelCosts maps a model name to its USD price per 1M input and output
// tokens. Unknown models fall back to a conservative estimate.
var modelCosts = map[string][2]float64{
	// Anthropic
	"claude-opus-4-6":            {15.00, 75.00},
	"claude-opus-4-20250514":     {15.00, 75.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-sonnet-4-20250514":   {3.00, 15.00},
	"claude-sonnet-3-5-20241022": {3.00, 15.00},
	"claude-3-5-haiku-20241022":  {0.80, 4.00},
	"claude-3-haiku-20240307":    {0.25, 1.25},
	// OpenAI
	"gpt-4o":        {2.50, 10.00},
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4-turbo":   {10.00, 30.00},
	"gpt-4":         {30.00, 60.00},
	"gpt-3.5-turbo": {0.50, 1.50},
	"o1":            {15.00, 60.00},
	"o1-mini":       {3.00, 12.00},
	"o3-mini":       {1.10, 4.40},
	// Google
	"gemini-2.0-flash": {0.10, 0.40},
	"gemini-1.5-flash": {0.075, 0.30},
	"gemini-1.5-pro":   {1.25, 5.00},
	"gemini-2.0-pro":   {1.25, 5.00},
}

const (
	defaultInputCostPer1M  = 3.00
	defaultOutputCostPer1M = 15.00
)

// Cost computes the USD cost for one call. Model lookup falls back to
// prefix matching so dated variants of a known model still price correctly.
func Cost(model string, inputTokens, outputTokens int64) float64 {
	costs, ok := modelCosts[model]
	if !ok {
		// Longest matching prefix wins so "gpt-4o-…" prices as gpt-4o,
		// not gpt-4.
		best := ""
		for known, kc := range modelCosts {
			if !strings.HasPrefix(model, known) && !strings.HasPrefix(known, model) {
				continue
			}
			if len(known) > len(best) {
				best, costs, ok = known, kc, true
			}
		}
	}
	if !ok {
		costs = [2]float64{defaultInputCostPer1M, defaultOutputCostPer1M}
	}
	return (float64(inputTokens)*costs[0] + float64(outputTokens)*costs[1]) / 1_000_000
}
