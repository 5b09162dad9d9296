package proxy

import (
	"bytes"
	"encoding/json"
	"strings"
)

// trackablePaths are upstream endpoints whose responses carry token usage.
var trackablePaths = []string{"/v1/messages", "/v1/chat/completions"}

func trackable(path string) bool {
	for _, p := range trackablePaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// Usage is the token accounting extracted from an upstream response.
type Usage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// ExtractUsage reads token counts out of a response body, streaming or
// not. For SSE it walks the data: lines; Anthropic reports input tokens
// in message_start and cumulative output tokens in message_delta, OpenAI
// in a final usage object. Unparseable bodies yield a zero Usage.
func ExtractUsage(body []byte, contentType string) Usage {
	if strings.Contains(contentType, "text/event-stream") {
		return extractSSE(body)
	}
	var payload struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens      int64 `json:"input_tokens"`
			OutputTokens     int64 `json:"output_tokens"`
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Usage{}
	}
	u := Usage{Model: payload.Model}
	u.InputTokens = payload.Usage.InputTokens + payload.Usage.PromptTokens
	u.OutputTokens = payload.Usage.OutputTokens + payload.Usage.CompletionTokens
	return u
}

func extractSSE(body []byte) Usage {
	var u Usage
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := line[len("data: "):]
		// Cheap filter before decoding every event.
		if !bytes.Contains(data, []byte("usage")) && !bytes.Contains(data, []byte(`"model"`)) {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		switch event["type"] {
		case "message_start":
			msg, _ := event["message"].(map[string]any)
			if msg == nil {
				continue
			}
			if model, ok := msg["model"].(string); ok {
				u.Model = model
			}
			if usage, ok := msg["usage"].(map[string]any); ok {
				u.InputTokens = intField(usage, "input_tokens")
			}
		case "message_delta":
			if usage, ok := event["usage"].(map[string]any); ok {
				// Cumulative count, later deltas supersede earlier ones.
				if n := intField(usage, "output_tokens"); n > 0 {
					u.OutputTokens = n
				}
			}
		default:
			// OpenAI stream chunks carry model per chunk and usage on
			// the final one when stream_options requests it.
			if model, ok := event["model"].(string); ok && u.Model == "" {
				u.Model = model
			}
			if usage, ok := event["usage"].(map[string]any); ok {
				if n := intField(usage, "prompt_tokens"); n > 0 {
					u.InputTokens = n
				}
				if n := intField(usage, "completion_tokens"); n > 0 {
					u.OutputTokens = n
				}
			}
		}
	}
	return u
}

func intField(m map[string]any, key string) int64 {
	if f, ok := m[key].(float64); ok {
		return int64(f)
	}
	return 0
}
