package budget

import (
	"strconv"
	"sync"
	"time"
)

// QuotaSnapshot is the most recent view of the upstream session quota,
// parsed from anthropic-ratelimit-* response headers.
type QuotaSnapshot struct {
	TokensLimit       int64
	TokensRemaining   int64
	TokensReset       time.Time
	RequestsLimit     int64
	RequestsRemaining int64
	RequestsReset     time.Time
	UpdatedAt         time.Time
}

// QuotaTracker watches upstream rate-limit headers. When the token window
// resets soon and tokens remain, it signals the router to push requests to
// the most capable tier so remaining quota is not wasted.
type QuotaTracker struct {
	mu                sync.Mutex
	latest            *QuotaSnapshot
	pushWithinMinutes int
	now               func() time.Time
}

func NewQuotaTracker(pushWithinMinutes int) *QuotaTracker {
	if pushWithinMinutes <= 0 {
		pushWithinMinutes = 15
	}
	return &QuotaTracker{pushWithinMinutes: pushWithinMinutes, now: time.Now}
}

// Header is the subset of http.Header the tracker needs; keyed lookups are
// case-insensitive in net/http, so callers pass header.Get.
type Header interface {
	Get(key string) string
}

// Update parses the quota headers of one upstream response. Responses
// without quota headers (or with malformed timestamps) are ignored.
func (q *QuotaTracker) Update(h Header) {
	tokensResetRaw := h.Get("anthropic-ratelimit-tokens-reset")
	if tokensResetRaw == "" {
		return
	}
	tokensReset, err := parseReset(tokensResetRaw)
	if err != nil {
		return
	}
	requestsReset := tokensReset
	if raw := h.Get("anthropic-ratelimit-requests-reset"); raw != "" {
		if t, err := parseReset(raw); err == nil {
			requestsReset = t
		}
	}

	snap := &QuotaSnapshot{
		TokensLimit:       headerInt(h, "anthropic-ratelimit-tokens-limit"),
		TokensRemaining:   headerInt(h, "anthropic-ratelimit-tokens-remaining"),
		TokensReset:       tokensReset,
		RequestsLimit:     headerInt(h, "anthropic-ratelimit-requests-limit"),
		RequestsRemaining: headerInt(h, "anthropic-ratelimit-requests-remaining"),
		RequestsReset:     requestsReset,
		UpdatedAt:         q.now().UTC(),
	}
	q.mu.Lock()
	q.latest = snap
	q.mu.Unlock()
}

// ShouldMaxPush is true when the reset is within the push window and
// tokens remain.
func (q *QuotaTracker) ShouldMaxPush() bool {
	q.mu.Lock()
	snap := q.latest
	q.mu.Unlock()
	if snap == nil {
		return false
	}
	minutesLeft := snap.TokensReset.Sub(q.now()).Minutes()
	return minutesLeft > 0 &&
		minutesLeft <= float64(q.pushWithinMinutes) &&
		snap.TokensRemaining > 0
}

// Status summarizes the tracker for the status endpoint.
func (q *QuotaTracker) Status() map[string]any {
	q.mu.Lock()
	snap := q.latest
	q.mu.Unlock()
	if snap == nil {
		return map[string]any{"available": false}
	}
	minutesLeft := snap.TokensReset.Sub(q.now()).Minutes()
	if minutesLeft < 0 {
		minutesLeft = 0
	}
	return map[string]any{
		"available":           true,
		"tokens_limit":        snap.TokensLimit,
		"tokens_remaining":    snap.TokensRemaining,
		"tokens_reset":        snap.TokensReset.Format(time.RFC3339),
		"requests_limit":      snap.RequestsLimit,
		"requests_remaining":  snap.RequestsRemaining,
		"requests_reset":      snap.RequestsReset.Format(time.RFC3339),
		"minutes_until_reset": minutesLeft,
		"should_max_push":     q.ShouldMaxPush(),
		"updated_at":          snap.UpdatedAt.Format(time.RFC3339),
	}
}

func parseReset(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}

func headerInt(h Header, key string) int64 {
	n, _ := strconv.ParseInt(h.Get(key), 10, 64)
	return n
}
