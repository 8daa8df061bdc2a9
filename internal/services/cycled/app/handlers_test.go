package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/impactworks/impactstrike/internal/cycle"
	"github.com/impactworks/impactstrike/internal/game"
	"github.com/impactworks/impactstrike/internal/ledger"
	platformerrors "github.com/impactworks/impactstrike/internal/platform/errors"
	"github.com/impactworks/impactstrike/internal/ratelimit"
	"github.com/impactworks/impactstrike/internal/session"
	"github.com/impactworks/impactstrike/internal/services/cycled/storage"
)

const testCronSecret = "cron-secret-for-tests"

type fakeRunner struct {
	result cycle.Result
	err    error
	calls  int
}

func (f *fakeRunner) Run(context.Context) (cycle.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeVerifier struct {
	valid bool
	err   error
	got   session.VerifyRequest
}

func (f *fakeVerifier) Verify(req session.VerifyRequest) (bool, error) {
	f.got = req
	return f.valid, f.err
}

type fakeLimiter struct {
	allow bool
	keys  []string
}

func (f *fakeLimiter) Allow(key string) bool {
	f.keys = append(f.keys, key)
	return f.allow
}

type fakeStore struct {
	records []storage.InvocationRecord
}

func (f *fakeStore) RecordInvocation(_ context.Context, record storage.InvocationRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeStore) ListInvocations(context.Context, int) ([]storage.InvocationRecord, error) {
	return f.records, nil
}

func newTestServer(t *testing.T, runner CycleRunner, verifier SessionVerifier, limiter *fakeLimiter, opts ...ServerOption) *Server {
	t.Helper()
	minter, err := NewTokenMinter("token-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token minter: %v", err)
	}
	opts = append(opts, WithLogger(func(string, ...any) {}))
	var l ratelimit.Limiter
	if limiter != nil {
		l = limiter
	}
	return NewServer(runner, verifier, l, minter, testCronSecret, opts...)
}

func triggerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/cycle/trigger", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestTriggerRejectsMissingBearer(t *testing.T) {
	runner := &fakeRunner{}
	server := newTestServer(t, runner, &fakeVerifier{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, triggerRequest(""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0", runner.calls)
	}
}

func TestTriggerRejectsWrongBearer(t *testing.T) {
	runner := &fakeRunner{}
	server := newTestServer(t, runner, &fakeVerifier{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, triggerRequest("wrong-secret"))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestTriggerConfirmedAction(t *testing.T) {
	runner := &fakeRunner{result: cycle.Result{
		Day:    20505,
		Phase:  game.PhaseLocked,
		Action: ledger.ActionLockTargeting,
		Status: cycle.StatusConfirmed,
		TxHash: "0xabc123",
	}}
	server := newTestServer(t, runner, &fakeVerifier{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, triggerRequest(testCronSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp triggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.Action != "lockTargeting" {
		t.Errorf("action = %q, want %q", resp.Action, "lockTargeting")
	}
	if resp.TxHash != "0xabc123" {
		t.Errorf("txHash = %q, want %q", resp.TxHash, "0xabc123")
	}
	if resp.Warning != "" {
		t.Errorf("warning = %q, want empty", resp.Warning)
	}
}

func TestTriggerOffHoursReportsNoAction(t *testing.T) {
	runner := &fakeRunner{result: cycle.Result{
		Phase:  game.PhaseTargeting,
		Status: cycle.StatusNoAction,
		Reason: "no action scheduled for hour 10",
	}}
	server := newTestServer(t, runner, &fakeVerifier{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, triggerRequest(testCronSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp triggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success {
		t.Error("success = true, want false for off-hours")
	}
	if resp.Message == "" {
		t.Error("expected off-hours message")
	}
}

func TestTriggerPendingCarriesWarning(t *testing.T) {
	runner := &fakeRunner{result: cycle.Result{
		Phase:  game.PhaseStrike,
		Action: ledger.ActionRequestCoordinates,
		Status: cycle.StatusPending,
		TxHash: "0xdef",
		Reason: "randomness fulfillment pending",
	}}
	server := newTestServer(t, runner, &fakeVerifier{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, triggerRequest(testCronSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d for partial success", rec.Code, http.StatusOK)
	}
	var resp triggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true for partial success")
	}
	if !strings.Contains(resp.Warning, "pending") {
		t.Errorf("warning = %q, want fulfillment-pending warning", resp.Warning)
	}
}

func TestTriggerFailureReturnsServerError(t *testing.T) {
	runner := &fakeRunner{
		result: cycle.Result{Phase: game.PhaseLocked, Action: ledger.ActionLockTargeting},
		err: platformerrors.Wrap(platformerrors.CodeLedgerSubmitFailed,
			"submit lockTargeting", errors.New("nonce too low")),
	}
	store := &fakeStore{}
	server := newTestServer(t, runner, &fakeVerifier{}, nil, WithInvocationStore(store))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, triggerRequest(testCronSecret))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	if store.records[0].Status != "failed" {
		t.Errorf("record status = %q, want %q", store.records[0].Status, "failed")
	}
	if store.records[0].LastError == "" {
		t.Error("expected failure detail on record")
	}
}

func TestTriggerRecordsWinningCoordinate(t *testing.T) {
	winning := game.Coordinate{X: 4, Y: 7, Z: 2}
	runner := &fakeRunner{result: cycle.Result{
		Phase:   game.PhaseStrike,
		Action:  ledger.ActionRequestCoordinates,
		Status:  cycle.StatusConfirmed,
		Winning: &winning,
	}}
	server := newTestServer(t, runner, &fakeVerifier{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, triggerRequest(testCronSecret))

	var resp triggerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Winning == nil || *resp.Winning != winning {
		t.Errorf("winning = %v, want %v", resp.Winning, winning)
	}
}

func verifyBody(t *testing.T) *strings.Reader {
	t.Helper()
	body, err := json.Marshal(verifyRequest{
		Address:   "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		Message:   "impact-strike login",
		Signature: "0xdeadbeef",
		Domain:    "impact-strike login",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return strings.NewReader(string(body))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	verifier := &fakeVerifier{valid: true}
	limiter := &fakeLimiter{allow: true}
	server := newTestServer(t, &fakeRunner{}, verifier, limiter)

	req := httptest.NewRequest(http.MethodPost, "/api/session/verify", verifyBody(t))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp verifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK {
		t.Error("ok = false, want true")
	}
	if resp.Token == "" {
		t.Fatal("expected session token")
	}

	subject, err := server.minter.Parse(resp.Token)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if subject != strings.ToLower("0x8ba1f109551bD432803012645Ac136ddd64DBA72") {
		t.Errorf("token subject = %q", subject)
	}
}

func TestVerifyRejectsInvalidSignature(t *testing.T) {
	verifier := &fakeVerifier{valid: false}
	server := newTestServer(t, &fakeRunner{}, verifier, &fakeLimiter{allow: true})

	req := httptest.NewRequest(http.MethodPost, "/api/session/verify", verifyBody(t))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp verifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OK {
		t.Error("ok = true, want false")
	}
	if resp.Token != "" {
		t.Error("invalid signature must not yield a token")
	}
}

func TestVerifyMalformedPayloadIsBadRequest(t *testing.T) {
	verifier := &fakeVerifier{err: session.ErrMissingSignature}
	server := newTestServer(t, &fakeRunner{}, verifier, &fakeLimiter{allow: true})

	req := httptest.NewRequest(http.MethodPost, "/api/session/verify", strings.NewReader(`{"address":"0xabc"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestVerifyInvalidJSONIsBadRequest(t *testing.T) {
	server := newTestServer(t, &fakeRunner{}, &fakeVerifier{}, &fakeLimiter{allow: true})

	req := httptest.NewRequest(http.MethodPost, "/api/session/verify", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestVerifyRateLimited(t *testing.T) {
	verifier := &fakeVerifier{valid: true}
	limiter := &fakeLimiter{allow: false}
	server := newTestServer(t, &fakeRunner{}, verifier, limiter)

	req := httptest.NewRequest(http.MethodPost, "/api/session/verify", verifyBody(t))
	req.RemoteAddr = "10.0.0.7:51234"
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "10.0.0.7" {
		t.Errorf("limiter keys = %v, want remote host", limiter.keys)
	}
}

func TestVerifyRateLimitKeyPrefersForwardedFor(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	server := newTestServer(t, &fakeRunner{}, &fakeVerifier{valid: false}, limiter)

	req := httptest.NewRequest(http.MethodPost, "/api/session/verify", verifyBody(t))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if len(limiter.keys) != 1 || limiter.keys[0] != "203.0.113.9" {
		t.Errorf("limiter keys = %v, want forwarded client", limiter.keys)
	}
}

func TestVerifySanitizesInputs(t *testing.T) {
	verifier := &fakeVerifier{valid: false}
	server := newTestServer(t, &fakeRunner{}, verifier, &fakeLimiter{allow: true})

	body, err := json.Marshal(verifyRequest{
		Address:   "  0x8ba1f109551bD432803012645Ac136ddd64DBA72  ",
		Message:   "  padded message  ",
		Signature: "0xdeadbeef",
		Domain:    strings.Repeat("d", 2000),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/session/verify", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if verifier.got.Address != "0x8ba1f109551bD432803012645Ac136ddd64DBA72" {
		t.Errorf("address = %q, want trimmed", verifier.got.Address)
	}
	if verifier.got.Message != "padded message" {
		t.Errorf("message = %q, want trimmed", verifier.got.Message)
	}
	if len(verifier.got.Domain) != maxInputLength {
		t.Errorf("domain len = %d, want %d", len(verifier.got.Domain), maxInputLength)
	}
}

func TestSessionResolvesMintedToken(t *testing.T) {
	server := newTestServer(t, &fakeRunner{}, &fakeVerifier{}, nil)
	token, err := server.minter.Mint("0x8ba1f109551bD432803012645Ac136ddd64DBA72", "impact-strike")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK {
		t.Error("ok = false, want true")
	}
	if resp.Address != "0x8ba1f109551bd432803012645ac136ddd64dba72" {
		t.Errorf("address = %q", resp.Address)
	}
}

func TestSessionRejectsMissingToken(t *testing.T) {
	server := newTestServer(t, &fakeRunner{}, &fakeVerifier{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/session/me", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSessionRejectsForgedToken(t *testing.T) {
	server := newTestServer(t, &fakeRunner{}, &fakeVerifier{}, nil)
	other, err := NewTokenMinter("different-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token minter: %v", err)
	}
	forged, err := other.Mint("0x8ba1f109551bD432803012645Ac136ddd64DBA72", "impact-strike")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session/me", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSanitizeInputKeepsRuneBoundaries(t *testing.T) {
	// A three-byte rune straddles the byte cap; truncation must not leave a
	// partial encoding behind.
	value := strings.Repeat("a", maxInputLength-1) + "日本"
	got := sanitizeInput(value)
	if len(got) > maxInputLength {
		t.Fatalf("len = %d, want <= %d", len(got), maxInputLength)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("sanitized value is not valid UTF-8: %q", got[len(got)-4:])
	}
	if got != strings.Repeat("a", maxInputLength-1) {
		t.Errorf("got %d bytes, want the straddling rune dropped whole", len(got))
	}

	short := sanitizeInput("  hello  ")
	if short != "hello" {
		t.Errorf("short input = %q, want %q", short, "hello")
	}
}

func TestVerifyMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &fakeRunner{}, &fakeVerifier{}, &fakeLimiter{allow: true})

	req := httptest.NewRequest(http.MethodGet, "/api/session/verify", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	server := newTestServer(t, &fakeRunner{}, &fakeVerifier{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("Referrer-Policy"); got == "" {
		t.Error("expected Referrer-Policy header")
	}
}

func TestTokenMinterRoundTrip(t *testing.T) {
	minter, err := NewTokenMinter("round-trip-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token minter: %v", err)
	}
	minter.clock = func() time.Time {
		return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	}

	token, err := minter.Mint("0xABCDEF0123456789abcdef0123456789ABCDEF01", "impact-strike")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	subject, err := minter.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if subject != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Errorf("subject = %q", subject)
	}
}

func TestTokenMinterRejectsExpired(t *testing.T) {
	minter, err := NewTokenMinter("expiry-secret", time.Minute)
	if err != nil {
		t.Fatalf("new token minter: %v", err)
	}
	issued := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	minter.clock = func() time.Time { return issued }

	token, err := minter.Mint("0xABCDEF0123456789abcdef0123456789ABCDEF01", "impact-strike")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	minter.clock = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := minter.Parse(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenMinterRequiresSecret(t *testing.T) {
	if _, err := NewTokenMinter(" ", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
