package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finboost/rewards-service/internal/app"
	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const testInternalKey = "internal-test-key"

type authServiceStub struct {
	AuthService
	lastSignup app.SignupInput
	signupErr  error
	verifyErr  error
}

func (s *authServiceStub) Signup(ctx context.Context, input app.SignupInput) (*app.SignupResult, error) {
	s.lastSignup = input
	if s.signupErr != nil {
		return nil, s.signupErr
	}
	return &app.SignupResult{User: &domain.User{ID: uuid.New(), Email: input.Email, Username: input.Username}}, nil
}

func (s *authServiceStub) VerifyEmail(ctx context.Context, rawToken string) (*domain.User, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &domain.User{ID: uuid.New(), EmailVerified: true}, nil
}

type historyServiceStub struct {
	HistoryService
	lastUser uuid.UUID
}

func (s *historyServiceStub) RewardsHistory(ctx context.Context, userID uuid.UUID) (*domain.RewardsHistory, error) {
	s.lastUser = userID
	return &domain.RewardsHistory{Items: []domain.RewardHistoryItem{}}, nil
}

type payoutServiceStub struct {
	PayoutService
	transitionErr error
}

func (s *payoutServiceStub) ListCycles(ctx context.Context) ([]domain.CycleSetting, error) {
	return nil, nil
}

func (s *payoutServiceStub) TransitionStatus(ctx context.Context, req app.TransitionRequest) (*store.TransitionResult, error) {
	if s.transitionErr != nil {
		return nil, s.transitionErr
	}
	return &store.TransitionResult{Selection: domain.CycleWinnerSelection{ID: req.SelectionID, PayoutStatus: domain.PayoutStatus(req.Status)}}, nil
}

type exportServiceStub struct {
	ExportService
}

func (s *exportServiceStub) ExportBatchCSV(ctx context.Context, batchID uuid.UUID) (*app.CSVExport, error) {
	return &app.CSVExport{Filename: "june-2026-items.csv", Content: []byte("id,amount\nx,1234\n"), Rows: 1}, nil
}

type suppressionServiceStub struct {
	SuppressionService
	validSignature bool
	handleErr      error
	handled        int
}

func (s *suppressionServiceStub) VerifySignature(body []byte, header string) bool {
	return s.validSignature
}

func (s *suppressionServiceStub) HandlePostmarkEvent(ctx context.Context, payload []byte) (*app.WebhookOutcome, error) {
	s.handled++
	if s.handleErr != nil {
		return nil, s.handleErr
	}
	return &app.WebhookOutcome{Action: app.WebhookSuppressed, EventID: "Bounce:1"}, nil
}

type testServer struct {
	router       http.Handler
	auth         *authServiceStub
	history      *historyServiceStub
	payouts      *payoutServiceStub
	suppressions *suppressionServiceStub
	tokens       *app.TokenIssuer
}

func newTestServer(authPerMinute int) *testServer {
	log := logrus.New()
	log.SetOutput(io.Discard)

	ts := &testServer{
		auth:         &authServiceStub{},
		history:      &historyServiceStub{},
		payouts:      &payoutServiceStub{},
		suppressions: &suppressionServiceStub{validSignature: true},
		tokens:       app.NewTokenIssuer("test-secret", "finboost", time.Hour),
	}
	handler := NewHandler(Services{
		Auth:         ts.auth,
		History:      ts.history,
		Payouts:      ts.payouts,
		Exports:      &exportServiceStub{},
		Suppressions: ts.suppressions,
	}, log)
	ts.router = NewRouter(handler, RouterConfig{
		Tokens:         ts.tokens,
		InternalAPIKey: testInternalKey,
		AllowedOrigins: []string{"*"},
		Limiter:        app.NewMemoryRateLimiter(),
		AuthPerMinute:  authPerMinute,
		AdminPerMinute: 100,
		Log:            log,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) bearer(t *testing.T, user domain.User) map[string]string {
	t.Helper()
	token, _, err := ts.tokens.Issue(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestSignup_CreatedAndSnakeCaseFields(t *testing.T) {
	ts := newTestServer(100)

	rec := ts.do(t, http.MethodPost, "/api/signup",
		`{"email":"ada@example.com","username":"ada","password":"s3cretpass","first_name":"Ada"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success bool         `json:"success"`
		User    *domain.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.User == nil || body.User.Email != "ada@example.com" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if ts.auth.lastSignup.FirstName != "Ada" {
		t.Fatalf("expected snake_case first_name to decode, got %+v", ts.auth.lastSignup)
	}
}

func TestSignup_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "duplicate", err: domain.ErrDuplicateUser, want: http.StatusConflict},
		{name: "invalid email", err: &domain.EmailError{Code: "disposable"}, want: http.StatusBadRequest},
		{name: "validation", err: &domain.ValidationError{Field: "password", Message: "too short"}, want: http.StatusBadRequest},
		{name: "unexpected", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(100)
			ts.auth.signupErr = tt.err

			rec := ts.do(t, http.MethodPost, "/api/signup", `{"email":"ada@example.com"}`, nil)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if errorBody(t, rec) == "" {
				t.Fatal("expected error message in body")
			}
		})
	}
}

func TestVerifyEmail_SecondUseRejected(t *testing.T) {
	ts := newTestServer(100)

	if rec := ts.do(t, http.MethodGet, "/api/auth/verify?token=abc", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	ts.auth.verifyErr = domain.ErrTokenAlreadyUsed
	if rec := ts.do(t, http.MethodGet, "/api/auth/verify?token=abc", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on reuse, got %d", rec.Code)
	}

	if rec := ts.do(t, http.MethodGet, "/api/auth/verify", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", rec.Code)
	}
}

func TestRewardsHistory_BothPathsNoStore(t *testing.T) {
	ts := newTestServer(100)
	user := domain.User{ID: uuid.New(), Email: "ada@example.com"}

	for _, path := range []string{"/api/rewards/history", "/api/cycles/rewards/history"} {
		t.Run(path, func(t *testing.T) {
			if rec := ts.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 without token, got %d", rec.Code)
			}

			rec := ts.do(t, http.MethodGet, path, "", ts.bearer(t, user))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Fatalf("expected no-store, got %q", got)
			}
			if ts.history.lastUser != user.ID {
				t.Fatalf("expected history for %s, got %s", user.ID, ts.history.lastUser)
			}
		})
	}
}

func TestAdminRoutes_Authorization(t *testing.T) {
	ts := newTestServer(100)

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "wrong internal key", headers: map[string]string{"X-Internal-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "internal key", headers: map[string]string{"X-Internal-API-Key": testInternalKey}, want: http.StatusOK},
		{name: "member token", headers: ts.bearer(t, domain.User{ID: uuid.New()}), want: http.StatusForbidden},
		{name: "admin token", headers: ts.bearer(t, domain.User{ID: uuid.New(), IsAdmin: true}), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/admin/cycles", "", tt.headers)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestExportBatchCSV_Attachment(t *testing.T) {
	ts := newTestServer(100)

	rec := ts.do(t, http.MethodGet, "/api/admin/payout-batches/"+uuid.NewString()+"/items.csv", "",
		map[string]string{"X-Internal-API-Key": testInternalKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="june-2026-items.csv"` {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "1234") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	bad := ts.do(t, http.MethodGet, "/api/admin/payout-batches/not-a-uuid/items.csv", "",
		map[string]string{"X-Internal-API-Key": testInternalKey})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", bad.Code)
	}
}

func TestTransition_InvalidIsConflict(t *testing.T) {
	ts := newTestServer(100)
	ts.payouts.transitionErr = &domain.TransitionError{From: domain.PayoutStatusPaid, To: domain.PayoutStatusPending}

	rec := ts.do(t, http.MethodPost, "/api/admin/selections/"+uuid.NewString()+"/transition",
		`{"status":"pending","idempotency_key":"k1"}`, map[string]string{"X-Internal-API-Key": testInternalKey})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestPostmarkWebhook_AlwaysOK(t *testing.T) {
	tests := []struct {
		name        string
		validSig    bool
		handleErr   error
		wantHandled int
	}{
		{name: "processed", validSig: true, wantHandled: 1},
		{name: "bad signature", validSig: false, wantHandled: 0},
		{name: "handler error", validSig: true, handleErr: &domain.ValidationError{Message: "invalid JSON"}, wantHandled: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(100)
			ts.suppressions.validSignature = tt.validSig
			ts.suppressions.handleErr = tt.handleErr

			rec := ts.do(t, http.MethodPost, "/api/webhooks/postmark", `{"RecordType":"Bounce"}`, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if ts.suppressions.handled != tt.wantHandled {
				t.Fatalf("expected %d handled events, got %d", tt.wantHandled, ts.suppressions.handled)
			}
		})
	}
}

func TestAuthRoutes_RateLimited(t *testing.T) {
	ts := newTestServer(2)
	headers := map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}

	for i := 0; i < 2; i++ {
		if rec := ts.do(t, http.MethodGet, "/api/auth/verify?token=abc", "", headers); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := ts.do(t, http.MethodGet, "/api/auth/verify?token=abc", "", headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	other := ts.do(t, http.MethodGet, "/api/auth/verify?token=abc", "", map[string]string{"X-Forwarded-For": "198.51.100.7"})
	if other.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", other.Code)
	}
}
