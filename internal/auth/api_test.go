package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	jose "gopkg.in/go-jose/go-jose.v2"
)

type stubVerifier struct {
	subject string
}

func (v stubVerifier) VerifySubject(accessToken string) (string, error) {
	if v.subject == "" {
		return "", errors.New("no subject")
	}
	return v.subject, nil
}

func (v stubVerifier) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{}
}

func newTestAPI(t *testing.T, cfg Config, adminSecret string) (*gin.Engine, *testDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl, d := newTestController(t, cfg)
	router := gin.New()
	NewHTTPHandler(ctrl, stubVerifier{subject: "user-1"}, adminSecret, zap.NewNop()).RegisterRoutes(router)
	return router, d
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterEndpointReportsAllViolations(t *testing.T) {
	router, _ := newTestAPI(t, testControllerConfig(), "")

	w := doJSON(router, "POST", "/register",
		`{"email":"user@example.com","password":"short","locale":"french"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var payload struct {
		Errors []FieldViolation `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(payload.Errors) != 2 {
		t.Fatalf("expected 2 violations, got %+v", payload.Errors)
	}
	codes := map[string]bool{}
	for _, v := range payload.Errors {
		codes[v.Code] = true
	}
	if !codes["password.min"] || !codes["locale.len"] {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

func TestRegisterEndpointSetsSessionCookies(t *testing.T) {
	router, d := newTestAPI(t, testControllerConfig(), "")

	w := doJSON(router, "POST", "/register",
		`{"email":"new@example.com","password":"longenough"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"session"`) {
		t.Fatalf("expected a session in the response: %s", w.Body.String())
	}
	if d.store.atomicInserts != 1 {
		t.Fatalf("expected one atomic insert, got %d", d.store.atomicInserts)
	}

	cookies := map[string]string{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c.Value
	}
	if cookies[AccessTokenCookie] == "" || cookies[RefreshTokenCookie] == "" {
		t.Fatalf("expected session cookies, got %v", cookies)
	}
}

func TestLoginEndpointMapsRejectionsToUnauthorized(t *testing.T) {
	router, _ := newTestAPI(t, testControllerConfig(), "")

	w := doJSON(router, "POST", "/login",
		`{"email":"ghost@example.com","password":"longenough"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}

	var payload struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if payload.Error != "invalid_credentials" || payload.Description == "" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
}

func TestStorageFailuresStayOpaque(t *testing.T) {
	router, d := newTestAPI(t, testControllerConfig(), "")
	d.store.insertErr = errors.New(`pq: duplicate key value violates unique constraint "users_email_key"`)

	w := doJSON(router, "POST", "/register",
		`{"email":"dup@example.com","password":"longenough"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "internal_error") {
		t.Fatalf("expected opaque error, got %s", body)
	}
	if strings.Contains(body, "duplicate") || strings.Contains(body, "users_email_key") {
		t.Fatalf("storage detail leaked: %s", body)
	}
}

func TestWhitelistRoutesRequireAdminSecret(t *testing.T) {
	cfg := testControllerConfig()
	cfg.WhitelistEnabled = true
	router, d := newTestAPI(t, cfg, "s3cret")

	w := doJSON(router, "POST", "/whitelist", `{"email":"vip@example.com"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/whitelist", strings.NewReader(`{"email":"vip@example.com"}`))
	req.Header.Set("X-Admin-Secret", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", w.Code)
	}
	if d.whitelist.inserts != 0 {
		t.Fatalf("rejected requests must not reach the store")
	}

	req = httptest.NewRequest("POST", "/whitelist", strings.NewReader(`{"email":"vip@example.com"}`))
	req.Header.Set("X-Admin-Secret", "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/whitelist?email=vip@example.com", nil)
	req.Header.Set("X-Admin-Secret", "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"whitelisted":true`) {
		t.Fatalf("expected whitelisted lookup, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWhitelistRoutesDisabledWithoutSecret(t *testing.T) {
	cfg := testControllerConfig()
	cfg.WhitelistEnabled = true
	router, _ := newTestAPI(t, cfg, "")

	// An unset secret disables the routes rather than opening them up.
	req := httptest.NewRequest("POST", "/whitelist", strings.NewReader(`{"email":"vip@example.com"}`))
	req.Header.Set("X-Admin-Secret", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogoutAllReadsBearerToken(t *testing.T) {
	router, d := newTestAPI(t, testControllerConfig(), "")

	w := doJSON(router, "POST", "/logout", `{"all":true}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/logout", strings.NewReader(`{"all":true}`))
	req.Header.Set("Authorization", "Bearer some-access-token")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w2.Code, w2.Body.String())
	}
	if len(d.store.deletedAllFor) != 1 || d.store.deletedAllFor[0] != "user-1" {
		t.Fatalf("expected all tokens of the caller revoked, got %v", d.store.deletedAllFor)
	}

	for _, c := range w2.Result().Cookies() {
		if c.Name == AccessTokenCookie && c.Value != "" {
			t.Fatalf("expected the access cookie cleared")
		}
	}
}

func TestVerifyEmailEndpointRedirectsWithRefreshToken(t *testing.T) {
	router, d := newTestAPI(t, testControllerConfig(), "")
	ticket := uuid.NewString()
	d.store.addUser(User{
		Email:           "new@example.com",
		Ticket:          ticket,
		TicketExpiresAt: time.Now().Add(time.Hour),
	}, "user")

	req := httptest.NewRequest("GET", "/user/email/verify?ticket="+ticket, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}

	target, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	if target.Host != "app.example.com" || target.Path != "/welcome" {
		t.Fatalf("unexpected redirect target: %s", target)
	}
	if target.Query().Get("refreshToken") == "" {
		t.Fatalf("expected the refresh token on the redirect: %s", target)
	}
}

func TestVerifyEmailEndpointRedirectsFailures(t *testing.T) {
	cfg := testControllerConfig()
	cfg.RedirectURLError = "https://app.example.com/auth-error"
	router, _ := newTestAPI(t, cfg, "")

	req := httptest.NewRequest("GET", "/user/email/verify?ticket="+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	target, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	if target.Path != "/auth-error" || target.Query().Get("error") != "invalid_ticket" {
		t.Fatalf("unexpected error redirect: %s", target)
	}
}

func TestProviderSignInEndpointSetsStateCookie(t *testing.T) {
	router, _ := newTestAPI(t, testControllerConfig(), "")

	req := httptest.NewRequest("GET", "/providers/github", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}

	target, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	state := target.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state on the authorization url: %s", target)
	}

	var cookieState string
	for _, c := range w.Result().Cookies() {
		if c.Name == ProviderStateCookie {
			cookieState = c.Value
		}
	}
	if cookieState != state {
		t.Fatalf("state cookie %q must match the url state %q", cookieState, state)
	}
}

func TestProviderCallbackChecksStateCookie(t *testing.T) {
	router, _ := newTestAPI(t, testControllerConfig(), "")
	state := uuid.NewString()

	// No cookie at all: the browser never started this round trip.
	req := httptest.NewRequest("GET", "/providers/github/callback?state="+state+"&code=xyz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "state_mismatch") {
		t.Fatalf("expected state mismatch, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/providers/github/callback?state="+state+"&code=xyz", nil)
	req.AddCookie(&http.Cookie{Name: ProviderStateCookie, Value: state})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}
	target, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	if target.Query().Get("code") != "xyz" {
		t.Fatalf("provider params must pass through: %s", target)
	}
	if target.Query().Get("state") != "" {
		t.Fatalf("state must not leak to the application: %s", target)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestAPI(t, testControllerConfig(), "")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("unexpected health response: %d %s", w.Code, w.Body.String())
	}
}

func TestJWKSEndpoint(t *testing.T) {
	router, _ := newTestAPI(t, testControllerConfig(), "")

	req := httptest.NewRequest("GET", "/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "keys") {
		t.Fatalf("unexpected jwks response: %d %s", w.Code, w.Body.String())
	}
}
