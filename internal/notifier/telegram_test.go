package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestSendFallsBackToStdoutWithoutCredentials(t *testing.T) {
	var buf strings.Builder
	calls := 0
	n := NewTelegram("", "", time.Second)
	n.Out = &buf
	n.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, io.ErrUnexpectedEOF
	})}

	if err := n.Send(context.Background(), "X"); err != nil {
		t.Fatalf("stdout fallback returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "X") {
		t.Fatalf("stdout output %q does not contain message", buf.String())
	}
	if calls != 0 {
		t.Fatalf("expected zero network calls, got %d", calls)
	}
}

func TestSendPostsToTelegram(t *testing.T) {
	var captured map[string]any
	var url string
	n := NewTelegram("token123", "chat456", time.Second)
	n.HTTP = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		url = req.URL.String()
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &captured)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`))}, nil
	})}

	if err := n.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.Contains(url, "bottoken123/sendMessage") {
		t.Fatalf("unexpected url %q", url)
	}
	if captured["chat_id"] != "chat456" || captured["text"] != "hello" {
		t.Fatalf("unexpected payload: %v", captured)
	}
	if captured["parse_mode"] != "Markdown" {
		t.Fatalf("parse_mode = %v", captured["parse_mode"])
	}
}

func TestSendNonSuccessStatusIsError(t *testing.T) {
	n := NewTelegram("t", "c", time.Second)
	n.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTooManyRequests, Body: io.NopCloser(strings.NewReader(`{"ok":false}`))}, nil
	})}
	if err := n.Send(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestSendTransportErrorIsError(t *testing.T) {
	n := NewTelegram("t", "c", time.Second)
	n.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	})}
	if err := n.Send(context.Background(), "x"); err == nil {
		t.Fatal("expected transport error")
	}
}
