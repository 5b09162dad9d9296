package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Telegram delivers messages to a chat via the Bot API. When no credentials
// are configured it degrades to writing messages to stdout; running without
// a bot is a supported mode, not an error.
type Telegram struct {
	Token  string
	ChatID string
	HTTP   *http.Client
	Out    io.Writer
}

func NewTelegram(token, chatID string, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Telegram{
		Token:  token,
		ChatID: chatID,
		HTTP:   &http.Client{Timeout: timeout},
		Out:    os.Stdout,
	}
}

func (t *Telegram) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

// Send delivers one message, at most once. A transport error or non-2xx
// status is returned to the caller for logging; there is no retry or queue.
func (t *Telegram) Send(ctx context.Context, msg string) error {
	if !t.Enabled() {
		fmt.Fprintln(t.Out, msg)
		return nil
	}
	payload := map[string]any{
		"chat_id":                  t.ChatID,
		"text":                     msg,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	b, _ := json.Marshal(payload)
	u := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", res.StatusCode, string(body))
	}
	return nil
}
