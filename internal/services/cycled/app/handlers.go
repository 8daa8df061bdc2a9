package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/impactworks/impactstrike/internal/cycle"
	"github.com/impactworks/impactstrike/internal/game"
	platformerrors "github.com/impactworks/impactstrike/internal/platform/errors"
	"github.com/impactworks/impactstrike/internal/ratelimit"
	"github.com/impactworks/impactstrike/internal/session"
	"github.com/impactworks/impactstrike/internal/services/cycled/storage"
)

// CycleRunner performs the ledger action scheduled for the current hour.
type CycleRunner interface {
	Run(ctx context.Context) (cycle.Result, error)
}

// SessionVerifier checks a signed wallet assertion.
type SessionVerifier interface {
	Verify(req session.VerifyRequest) (bool, error)
}

// Server exposes the cycle trigger and session verification endpoints.
type Server struct {
	runner     CycleRunner
	verifier   SessionVerifier
	limiter    ratelimit.Limiter
	minter     *TokenMinter
	store      storage.InvocationStore
	cronSecret string
	logf       func(format string, args ...any)
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithInvocationStore records each trigger invocation outcome.
func WithInvocationStore(store storage.InvocationStore) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithLogger overrides the server log function.
func WithLogger(logf func(format string, args ...any)) ServerOption {
	return func(s *Server) { s.logf = logf }
}

// NewServer wires the HTTP boundary. The cron secret guards the trigger
// endpoint; the limiter guards the verify endpoint.
func NewServer(runner CycleRunner, verifier SessionVerifier, limiter ratelimit.Limiter, minter *TokenMinter, cronSecret string, opts ...ServerOption) *Server {
	s := &Server{
		runner:     runner,
		verifier:   verifier,
		limiter:    limiter,
		minter:     minter,
		cronSecret: cronSecret,
		logf:       log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes with security headers applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cycle/trigger", s.handleTrigger)
	mux.HandleFunc("/api/session/verify", s.handleVerify)
	mux.HandleFunc("/api/session/me", s.handleSession)
	mux.HandleFunc("/healthz", s.handleHealth)
	return securityHeaders(mux)
}

type triggerResponse struct {
	Success bool             `json:"success"`
	Action  string           `json:"action,omitempty"`
	Result  string           `json:"result,omitempty"`
	TxHash  string           `json:"txHash,omitempty"`
	Winning *game.Coordinate `json:"winning,omitempty"`
	Warning string           `json:"warning,omitempty"`
	Message string           `json:"message,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, triggerResponse{Success: false, Message: "method not allowed"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, triggerResponse{Success: false, Message: "unauthorized"})
		return
	}

	result, err := s.runner.Run(r.Context())
	s.recordInvocation(r.Context(), result, err)
	if err != nil {
		s.logf("cycle trigger: %v", err)
		status := http.StatusInternalServerError
		var perr *platformerrors.Error
		if errors.As(err, &perr) {
			status = perr.Code.HTTPStatus()
		}
		writeJSON(w, status, triggerResponse{Success: false, Message: "cycle action failed"})
		return
	}

	resp := triggerResponse{
		Success: true,
		Action:  string(result.Action),
		Result:  string(result.Status),
		TxHash:  string(result.TxHash),
		Winning: result.Winning,
	}
	switch result.Status {
	case cycle.StatusNoAction:
		resp.Success = false
		resp.Message = result.Reason
	case cycle.StatusPending:
		resp.Warning = result.Reason
	case cycle.StatusSkipped:
		resp.Message = result.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorized checks the trigger bearer token in constant time.
func (s *Server) authorized(r *http.Request) bool {
	if s.cronSecret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}

func (s *Server) recordInvocation(ctx context.Context, result cycle.Result, runErr error) {
	if s.store == nil {
		return
	}
	record := storage.InvocationRecord{
		Day:    result.Day,
		Phase:  result.Phase.String(),
		Action: string(result.Action),
		Status: string(result.Status),
		TxHash: string(result.TxHash),
	}
	if runErr != nil {
		record.Status = "failed"
		record.LastError = runErr.Error()
	}
	if err := s.store.RecordInvocation(ctx, record); err != nil {
		s.logf("record invocation: %v", err)
	}
}

type verifyRequest struct {
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	Signature string    `json:"signature"`
	Domain    string    `json:"domain"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type verifyResponse struct {
	OK    bool   `json:"ok"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, verifyResponse{OK: false, Error: "method not allowed"})
		return
	}
	if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, verifyResponse{OK: false, Error: "rate limit exceeded"})
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, verifyResponse{OK: false, Error: "invalid request body"})
		return
	}

	valid, err := s.verifier.Verify(session.VerifyRequest{
		Address:   sanitizeInput(req.Address),
		Message:   sanitizeInput(req.Message),
		Signature: sanitizeInput(req.Signature),
		Domain:    sanitizeInput(req.Domain),
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		// Malformed input is the caller's fault; keep the message generic.
		writeJSON(w, http.StatusBadRequest, verifyResponse{OK: false, Error: "verification failed"})
		return
	}
	if !valid {
		writeJSON(w, http.StatusOK, verifyResponse{OK: false})
		return
	}

	token, err := s.minter.Mint(req.Address, req.Domain)
	if err != nil {
		s.logf("mint session token: %v", err)
		writeJSON(w, http.StatusInternalServerError, verifyResponse{OK: false, Error: "session token unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{OK: true, Token: token})
}

type sessionResponse struct {
	OK      bool   `json:"ok"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleSession resolves a previously minted session token back to the wallet
// address it was issued for.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, sessionResponse{OK: false, Error: "method not allowed"})
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		writeJSON(w, http.StatusUnauthorized, sessionResponse{OK: false, Error: "session token required"})
		return
	}
	address, err := s.minter.Parse(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, sessionResponse{OK: false, Error: "invalid session token"})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{OK: true, Address: address})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientKey identifies the caller for rate limiting. Proxied deployments set
// X-Forwarded-For; otherwise the remote address is used without its port.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		header.Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}
