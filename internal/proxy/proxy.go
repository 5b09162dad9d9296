package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"clawsentry/internal/budget"
	"clawsentry/internal/router"
)

// strippedHeaders never reach the upstream: the client's credentials and
// framing are replaced with ours.
var strippedHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
	"authorization":  true,
	"x-api-key":      true,
}

const maxBodyBytes = 32 << 20

// Server is the credential-hiding reverse proxy. Clients talk to it
// without ever holding the upstream API key.
type Server struct {
	UpstreamBase     string
	UpstreamKey      string
	UpstreamProvider string

	Guard  *Guard
	Router *router.Config
	Budget *budget.Manager
	Quota  *budget.QuotaTracker

	HTTP *http.Client
	log  *slog.Logger
}

func NewServer(base, key, provider string, guard *Guard, routerCfg *router.Config, budgetMgr *budget.Manager, quota *budget.QuotaTracker, logger *slog.Logger) *Server {
	return &Server{
		UpstreamBase:     strings.TrimRight(base, "/"),
		UpstreamKey:      key,
		UpstreamProvider: provider,
		Guard:            guard,
		Router:           routerCfg,
		Budget:           budgetMgr,
		Quota:            quota,
		HTTP:             &http.Client{Timeout: 600 * time.Second},
		log:              logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(logMiddleware(s.log))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Get("/health", s.handleHealth)
		r.Get("/router/status", s.handleRouterStatus)
	})
	r.Handle("/*", http.HandlerFunc(s.handleProxy))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"upstream": s.UpstreamBase,
		"routing":  s.Router != nil && s.Router.Enabled,
	})
}

func (s *Server) handleRouterStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"enabled": s.Router != nil && s.Router.Enabled,
	}
	if s.Router != nil {
		status["default_tier"] = s.Router.DefaultTier
		status["tiers"] = s.Router.TierOrder
	}
	if s.Budget != nil {
		status["budget"] = s.Budget.Status()
	}
	if s.Quota != nil {
		status["quota"] = s.Quota.Status()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}

	var parsed map[string]any
	if len(body) > 0 {
		// Non-JSON bodies pass through unscanned and unrouted.
		if err := json.Unmarshal(body, &parsed); err != nil {
			parsed = nil
		}
	}

	if parsed != nil {
		if reason := s.runGuard(r.Context(), parsed); reason != "" {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{
				"type":    "invalid_request_error",
				"message": reason,
			}})
			return
		}
		if s.Guard != nil && s.Guard.Enabled && s.Guard.StripHidden {
			stripHiddenFromBody(parsed)
		}
	}

	target := s.UpstreamBase
	key := s.UpstreamKey
	provider := s.UpstreamProvider

	if parsed != nil && s.routingActive() && trackable(r.URL.Path) {
		decision, rejected := s.route(parsed)
		if rejected {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "spending limit reached, request rejected",
			}})
			return
		}
		if decision != nil {
			target = strings.TrimRight(decision.provider.BaseURL, "/")
			key = decision.provider.APIKey
			provider = decision.provider.Type
			parsed["model"] = decision.model.Model
			mergeExtraParams(parsed, decision.model.ExtraParams)
			w.Header().Set("X-LLM-Router-Tier", decision.tier)
			w.Header().Set("X-LLM-Router-Model", decision.model.Model)
			w.Header().Set("X-LLM-Router-Provider", decision.provider.Name)
		}
	}

	if parsed != nil {
		body, err = json.Marshal(parsed)
		if err != nil {
			http.Error(w, "encode request body", http.StatusInternalServerError)
			return
		}
	}

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target+r.URL.RequestURI(), bytes.NewReader(body))
	if err != nil {
		http.Error(w, "build upstream request", http.StatusBadGateway)
		return
	}
	copyHeaders(upstream.Header, r.Header)
	injectCredentials(upstream.Header, provider, key)

	res, err := s.HTTP.Do(upstream)
	if err != nil {
		s.log.Error("upstream request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	if s.Quota != nil {
		s.Quota.Update(res.Header)
	}

	for k, vv := range res.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.StatusCode)

	if s.Budget != nil && trackable(r.URL.Path) && res.StatusCode < 300 {
		s.relayAndMeter(w, res)
		return
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		s.log.Debug("relay interrupted", "err", err)
	}
}

// relayAndMeter streams the upstream response to the client while keeping
// a copy for token accounting. Flushing per read keeps SSE interactive.
func (s *Server) relayAndMeter(w http.ResponseWriter, res *http.Response) {
	var captured bytes.Buffer
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			captured.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
	}

	usage := ExtractUsage(captured.Bytes(), res.Header.Get("Content-Type"))
	if usage.Model == "" || usage.InputTokens+usage.OutputTokens == 0 {
		return
	}
	cost := s.Budget.RecordCost(usage.Model, usage.InputTokens, usage.OutputTokens)
	s.log.Info("usage recorded",
		"model", usage.Model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost_usd", fmt.Sprintf("%.6f", cost),
	)
}

func (s *Server) runGuard(ctx context.Context, parsed map[string]any) string {
	if s.Guard == nil || !s.Guard.Enabled {
		return ""
	}
	messages := extractMessages(parsed, s.UpstreamProvider)
	if len(messages) == 0 {
		return ""
	}
	if reason := s.Guard.CheckHidden(messages); reason != "" {
		return reason
	}
	return s.Guard.CheckRemote(ctx, messages)
}

func (s *Server) routingActive() bool {
	return s.Router != nil && s.Router.Enabled && len(s.Router.TierOrder) > 0
}

type routeDecision struct {
	tier     string
	provider router.Provider
	model    router.TierModel
}

// route picks the target tier for a request. Quota push overrides the
// classifier; budget pressure downgrades; over budget either rejects or
// falls back to the cheapest tier. A nil decision means legacy
// pass-through.
func (s *Server) route(parsed map[string]any) (*routeDecision, bool) {
	tier := s.Router.Classify(parsed)

	if s.Quota != nil && s.Quota.ShouldMaxPush() {
		if push := s.Router.Budgets.MaxPushTier; push != "" {
			tier = push
		} else {
			tier = s.Router.TierOrder[0]
		}
		s.log.Info("quota reset imminent, pushing to top tier", "tier", tier)
	} else if s.Budget != nil {
		if s.Budget.IsOverBudget() {
			if s.Budget.OverBudgetAction() == "reject" {
				return nil, true
			}
			tier = s.Router.LowestTier()
		} else if s.Budget.ShouldDowngrade() {
			tier = s.Router.DowngradeTier(tier, s.Budget.DowngradeSteps())
		}
	}

	provider, model, ok := s.Router.ResolveTarget(tier, s.UpstreamProvider, nil)
	if !ok {
		s.log.Warn("no routable provider for tier, using legacy upstream", "tier", tier)
		return nil, false
	}
	return &routeDecision{tier: tier, provider: provider, model: model}, false
}

// mergeExtraParams overlays tier defaults onto the request, one level
// deep. Values the client set explicitly win at the top level; within a
// nested map the tier's keys fill gaps.
func mergeExtraParams(body map[string]any, extra map[string]any) {
	for k, v := range extra {
		existing, present := body[k]
		if !present {
			body[k] = v
			continue
		}
		sub, ok1 := existing.(map[string]any)
		add, ok2 := v.(map[string]any)
		if ok1 && ok2 {
			for kk, vv := range add {
				if _, has := sub[kk]; !has {
					sub[kk] = vv
				}
			}
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if strippedHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// injectCredentials attaches our upstream credentials. Anthropic API keys
// go in x-api-key; OAuth access tokens need a Bearer header plus the
// oauth beta flag. OpenAI-compatible providers always take Bearer.
func injectCredentials(h http.Header, provider, key string) {
	if key == "" {
		return
	}
	if provider == "anthropic" {
		if h.Get("anthropic-version") == "" {
			h.Set("anthropic-version", "2023-06-01")
		}
		if strings.HasPrefix(key, "sk-ant-oat") {
			h.Set("Authorization", "Bearer "+key)
			h.Set("anthropic-beta", "oauth-2025-04-20,claude-code-20250219")
			h.Set("user-agent", "claude-cli/1.0.119 (external, cli)")
			h.Set("x-app", "cli")
			return
		}
		h.Set("x-api-key", key)
		return
	}
	h.Set("Authorization", "Bearer "+key)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(ww, r)
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
