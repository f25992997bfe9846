// Package gateway exposes the agent and the confirmation flow over HTTP and
// routes chat messages between the bus and the agent.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/NetClaw/internal/agent"
	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/executor"
)

// Agent runs conversations.
type Agent interface {
	Run(ctx context.Context, req agent.Request) executor.Result
	AnalyzeHealth(ctx context.Context, devices []map[string]any, summary string, req agent.Request) executor.Result
	AnalyzeAudit(ctx context.Context, in agent.AuditInput, req agent.Request) executor.Result
}

// Actions resolves pending actions.
type Actions interface {
	Confirm(ctx context.Context, token, approver string) executor.Result
	Deny(token, approver string) executor.Result
	RunApproved(ctx context.Context, token string) executor.Result
}

// ActionStore reads pending actions.
type ActionStore interface {
	Get(token string) (approval.PendingAction, error)
	List(statuses ...approval.Status) []approval.PendingAction
}

// Options configures a Server.
type Options struct {
	Agent     Agent
	Actions   Actions
	Store     ActionStore
	AuthToken string // bearer token; empty disables auth
	// RequireUser rejects agent requests without a user, so every gated
	// action is bound to a requester.
	RequireUser bool
	Ready       func(ctx context.Context) error // readiness probe, optional
	Metrics     http.Handler                    // served at /metrics when set
	Version     string
	Logger      *slog.Logger
}

// Server is the HTTP API used by workflow collaborators.
type Server struct {
	agent       Agent
	actions     Actions
	store       ActionStore
	authToken   string
	requireUser bool
	ready       func(ctx context.Context) error
	metrics     http.Handler
	version     string
	logger      *slog.Logger
	started     time.Time
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		agent:       opts.Agent,
		actions:     opts.Actions,
		store:       opts.Store,
		authToken:   opts.AuthToken,
		requireUser: opts.RequireUser,
		ready:       opts.Ready,
		metrics:     opts.Metrics,
		version:     opts.Version,
		logger:      logger,
		started:     time.Now(),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("POST /api/query", s.auth(s.handleQuery))
	mux.Handle("POST /api/analyze/health", s.auth(s.handleAnalyzeHealth))
	mux.Handle("POST /api/analyze/audit", s.auth(s.handleAnalyzeAudit))
	mux.Handle("GET /api/actions", s.auth(s.handleListActions))
	mux.Handle("GET /api/actions/{token}", s.auth(s.handleGetAction))
	mux.Handle("POST /api/actions/{token}/approve", s.auth(s.handleApprove))
	mux.Handle("POST /api/actions/{token}/deny", s.auth(s.handleDeny))
	mux.Handle("POST /api/actions/{token}/execute", s.auth(s.handleExecute))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.requestID(mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type ctxKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) auth(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if token != s.authToken {
				writeJSON(w, http.StatusUnauthorized, failureBody(executor.Failure{Kind: executor.FailureNotAuthorized, Detail: "missing or invalid bearer token"}))
				return
			}
		}
		h(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type queryRequest struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
	User    string         `json:"user,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeBadRequest(w, "message is required")
		return
	}
	if !s.checkUser(w, req.User) {
		return
	}
	res := s.agent.Run(r.Context(), s.agentRequest(r, req.User, req.Message, req.Context))
	writeResult(w, res, requestIDFrom(r.Context()))
}

type healthAnalysisRequest struct {
	Devices []map[string]any `json:"devices"`
	Summary string           `json:"summary"`
	User    string           `json:"user,omitempty"`
}

func (s *Server) handleAnalyzeHealth(w http.ResponseWriter, r *http.Request) {
	var req healthAnalysisRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkUser(w, req.User) {
		return
	}
	res := s.agent.AnalyzeHealth(r.Context(), req.Devices, req.Summary, s.agentRequest(r, req.User, "", nil))
	writeResult(w, res, requestIDFrom(r.Context()))
}

type auditAnalysisRequest struct {
	agent.AuditInput
	User string `json:"user,omitempty"`
}

func (s *Server) handleAnalyzeAudit(w http.ResponseWriter, r *http.Request) {
	var req auditAnalysisRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkUser(w, req.User) {
		return
	}
	res := s.agent.AnalyzeAudit(r.Context(), req.AuditInput, s.agentRequest(r, req.User, "", nil))
	writeResult(w, res, requestIDFrom(r.Context()))
}

func (s *Server) checkUser(w http.ResponseWriter, user string) bool {
	if s.requireUser && strings.TrimSpace(user) == "" {
		writeBadRequest(w, "user is required")
		return false
	}
	return true
}

func (s *Server) agentRequest(r *http.Request, user, message string, extra map[string]any) agent.Request {
	id := requestIDFrom(r.Context())
	return agent.Request{
		Message:     message,
		Context:     extra,
		RequestedBy: user,
		Origin:      approval.Origin{Channel: "http", MessageID: id},
		TraceID:     id,
	}
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	var statuses []approval.Status
	for _, raw := range r.URL.Query()["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				statuses = append(statuses, approval.Status(st))
			}
		}
	}
	list := s.store.List(statuses...)
	out := make([]actionView, 0, len(list))
	for _, a := range list {
		out = append(out, viewOf(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.store.Get(r.PathValue("token"))
	if err != nil {
		f := executor.FailureFrom(err, executor.FailureNotFound)
		writeJSON(w, statusFor(f), failureBody(f))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": viewOf(action)})
}

type decisionRequest struct {
	User string `json:"user"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	token := r.PathValue("token")
	s.logger.Info("HTTP approval", "token_id", approval.Fingerprint(token), "user", req.User, "request_id", requestIDFrom(r.Context()))
	// The MFA wait and the run outlive a dropped client; the store bounds
	// the wait by the action TTL.
	ctx := context.WithoutCancel(r.Context())
	writeResult(w, s.actions.Confirm(ctx, token, req.User), requestIDFrom(r.Context()))
}

// handleExecute runs an action that is already approved, for callers whose
// approve request ended before the run.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	s.logger.Info("HTTP execute", "token_id", approval.Fingerprint(token), "request_id", requestIDFrom(r.Context()))
	writeResult(w, s.actions.RunApproved(r.Context(), token), requestIDFrom(r.Context()))
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	token := r.PathValue("token")
	s.logger.Info("HTTP denial", "token_id", approval.Fingerprint(token), "user", req.User, "request_id", requestIDFrom(r.Context()))
	writeResult(w, s.actions.Deny(token, req.User), requestIDFrom(r.Context()))
}

// actionView is the wire form of a pending action. The token is included:
// HTTP callers hold the bearer secret and need it to resolve the action.
type actionView struct {
	Token        string         `json:"token"`
	Reference    string         `json:"reference"`
	Tool         string         `json:"tool"`
	Arguments    map[string]any `json:"arguments"`
	Tier         string         `json:"risk_tier"`
	Description  string         `json:"description"`
	Impact       string         `json:"impact"`
	Status       string         `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	RequestedBy  string         `json:"requested_by,omitempty"`
	ResolvedBy   string         `json:"resolved_by,omitempty"`
	RequiresMFA  bool           `json:"requires_mfa"`
	UserApproved bool           `json:"user_approved"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

func viewOf(a approval.PendingAction) actionView {
	return actionView{
		Token:        a.Token,
		Reference:    approval.Fingerprint(a.Token),
		Tool:         a.ToolName,
		Arguments:    a.Arguments,
		Tier:         a.Tier.String(),
		Description:  a.Description,
		Impact:       a.Impact,
		Status:       string(a.Status),
		Reason:       a.Reason,
		RequestedBy:  a.RequestedBy,
		ResolvedBy:   a.ResolvedBy,
		RequiresMFA:  a.Tier.RequiresMFA(),
		UserApproved: a.UserApproved,
		CreatedAt:    a.CreatedAt,
		ExpiresAt:    a.ExpiresAt,
	}
}

func writeResult(w http.ResponseWriter, res executor.Result, requestID string) {
	switch v := res.(type) {
	case executor.Answer:
		writeJSON(w, http.StatusOK, map[string]any{"kind": v.Type(), "text": v.Text, "request_id": requestID})
	case executor.NeedsConfirmation:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"kind":       v.Type(),
			"message":    executor.Describe(v),
			"action":     viewOf(v.Action),
			"request_id": requestID,
		})
	case executor.Failure:
		body := failureBody(v)
		body["request_id"] = requestID
		writeJSON(w, statusFor(v), body)
	default:
		writeJSON(w, http.StatusInternalServerError, failureBody(executor.Failure{Kind: executor.FailureTool, Detail: fmt.Sprintf("unexpected result %T", res)}))
	}
}

func failureBody(f executor.Failure) map[string]any {
	return map[string]any{
		"kind":  f.Type(),
		"error": map[string]any{"kind": string(f.Kind), "detail": f.Detail},
	}
}

// statusFor maps a failure kind to an HTTP status. The body always carries
// the kind, so callers can branch on it regardless of status.
func statusFor(f executor.Failure) int {
	switch f.Kind {
	case executor.FailureInvalidRequest:
		return http.StatusBadRequest
	case executor.FailureNotFound:
		return http.StatusNotFound
	case executor.FailureExpired:
		return http.StatusGone
	case executor.FailureAlreadyResolved, executor.FailureNotApproved:
		return http.StatusConflict
	case executor.FailureNotAuthorized, executor.FailureMFADenied, executor.FailureMFATimedOut:
		return http.StatusForbidden
	case executor.FailureAuth, executor.FailureProvider:
		return http.StatusBadGateway
	case executor.FailureCancelled:
		return http.StatusServiceUnavailable
	case executor.FailureIterationLimit, executor.FailureClassificationGap, executor.FailureUnknownTool, executor.FailureTool:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

const maxBodyBytes = 4 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid json: "+err.Error())
		return false
	}
	return true
}

func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, dst)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, failureBody(executor.Failure{Kind: executor.FailureInvalidRequest, Detail: detail}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
