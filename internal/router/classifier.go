package router

// Classify maps a decoded request body to a tier name using cheap
// heuristics: trivially small conversations go to the lowest tier, long or
// heavily tooled ones to the highest, everything else to the default. It
// never fails; an unclassifiable request gets the default tier.
func (c *Config) Classify(body map[string]any) string {
	if len(c.TierOrder) == 0 {
		return c.DefaultTier
	}
	if !c.Classifier.HeuristicBypass {
		return c.DefaultTier
	}

	highest := c.TierOrder[0]
	lowest := c.TierOrder[len(c.TierOrder)-1]

	messages, _ := body["messages"].([]any)
	tools, _ := body["tools"].([]any)
	lastUserLen := lastUserMessageLen(messages)

	if len(messages) <= 3 && len(tools) == 0 && lastUserLen < 200 {
		return lowest
	}
	if len(messages) > 20 || len(tools) > 5 {
		return highest
	}
	if body["thinking"] != nil || body["extended_thinking"] != nil {
		return highest
	}
	return c.DefaultTier
}

func lastUserMessageLen(messages []any) int {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			return len(content)
		case []any:
			total := 0
			for _, b := range content {
				block, ok := b.(map[string]any)
				if !ok || block["type"] != "text" {
					continue
				}
				if text, ok := block["text"].(string); ok {
					total += len(text)
				}
			}
			return total
		}
		return 0
	}
	return 0
}
