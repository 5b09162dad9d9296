package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// hiddenRanges are Unicode codepoint ranges invisible in rendered text but
// meaningful to a model: zero-width characters, bidi controls, tag
// characters. Prompt-injection payloads hide instructions in these.
var hiddenRanges = [][2]rune{
	{0x200B, 0x200F}, // zero-width chars + LRM/RLM
	{0x202A, 0x202E}, // bidi overrides
	{0x2060, 0x2064}, // invisible operators
	{0x2066, 0x2069}, // bidi isolates
	{0x00AD, 0x00AD}, // soft hyphen
	{0x061C, 0x061C}, // arabic letter mark
	{0xFEFF, 0xFEFF}, // BOM / zero-width no-break space
	{0xE0001, 0xE007F}, // tag characters
}

func isHidden(r rune) bool {
	for _, rg := range hiddenRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// CountHidden returns how many hidden codepoints text contains.
func CountHidden(text string) int {
	n := 0
	for _, r := range text {
		if isHidden(r) {
			n++
		}
	}
	return n
}

// StripHidden removes all hidden codepoints from text.
func StripHidden(text string) string {
	var sb bytes.Buffer
	for _, r := range text {
		if !isHidden(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// extractMessages pulls the user-facing text out of a request body, in
// both Anthropic (system field + content blocks) and OpenAI shapes. The
// guard scans exactly this text.
func extractMessages(body map[string]any, provider string) []string {
	var texts []string

	switch system := body["system"].(type) {
	case string:
		texts = append(texts, system)
	case []any:
		for _, b := range system {
			if block, ok := b.(map[string]any); ok && block["type"] == "text" {
				if t, ok := block["text"].(string); ok {
					texts = append(texts, t)
				}
			}
		}
	}

	messages, _ := body["messages"].([]any)
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role != "user" && !(provider == "openai" && role == "system") {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			texts = append(texts, content)
		case []any:
			for _, b := range content {
				if block, ok := b.(map[string]any); ok && block["type"] == "text" {
					if t, ok := block["text"].(string); ok {
						texts = append(texts, t)
					}
				}
			}
		}
	}
	return texts
}

// stripHiddenFromBody rewrites every text field of the body with hidden
// codepoints removed.
func stripHiddenFromBody(body map[string]any) {
	switch system := body["system"].(type) {
	case string:
		body["system"] = StripHidden(system)
	case []any:
		stripBlocks(system)
	}
	messages, _ := body["messages"].([]any)
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			msg["content"] = StripHidden(content)
		case []any:
			stripBlocks(content)
		}
	}
}

func stripBlocks(blocks []any) {
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok || block["type"] != "text" {
			continue
		}
		if t, ok := block["text"].(string); ok {
			block["text"] = StripHidden(t)
		}
	}
}

// Guard decides whether a request may pass to the upstream.
type Guard struct {
	Enabled     bool
	URL         string
	Threshold   float64
	StripHidden bool
	HTTP        *http.Client
	log         *slog.Logger
}

func NewGuard(enabled bool, url string, threshold float64, stripHidden bool, logger *slog.Logger) *Guard {
	return &Guard{
		Enabled:     enabled,
		URL:         url,
		Threshold:   threshold,
		StripHidden: stripHidden,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		log:         logger,
	}
}

// CheckHidden scans messages for hidden codepoints. In strip mode it only
// logs; in block mode it returns the rejection reason.
func (g *Guard) CheckHidden(messages []string) (blockReason string) {
	if !g.Enabled {
		return ""
	}
	total := 0
	for _, m := range messages {
		total += CountHidden(m)
	}
	if total == 0 {
		return ""
	}
	g.log.Warn("hidden unicode detected", "count", total, "strip", g.StripHidden)
	if g.StripHidden {
		return ""
	}
	return fmt.Sprintf("hidden Unicode characters detected: %d", total)
}

// CheckRemote posts the messages to the external guard service. Any
// transport error fails open; only a definite score at or above the
// threshold blocks.
func (g *Guard) CheckRemote(ctx context.Context, messages []string) (blockReason string) {
	if !g.Enabled || g.URL == "" {
		return ""
	}
	payload, _ := json.Marshal(map[string]any{"messages": messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(payload))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := g.HTTP.Do(req)
	if err != nil {
		g.log.Error("guard service unreachable", "err", err)
		return ""
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return ""
	}
	var result struct {
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return ""
	}
	if result.Score >= g.Threshold {
		if result.Reason != "" {
			return result.Reason
		}
		return "content blocked by guard"
	}
	return ""
}
