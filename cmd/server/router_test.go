package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mermaidchart/confluence-connect/pkg/core"
	"github.com/mermaidchart/confluence-connect/pkg/hostclient"
	"github.com/mermaidchart/confluence-connect/pkg/installation"
	"github.com/mermaidchart/confluence-connect/pkg/ledger"
	"github.com/mermaidchart/confluence-connect/pkg/store"
)

const (
	testClientKey    = "tenant-1"
	testSharedSecret = "shared-secret"
	testAccountID    = "acct-1"
	testAccessToken  = "provider-access-token"
)

// fakeHost is a stand-in for the host platform's user property API, keyed by
// account id. Setting fail makes every request come back forbidden.
type fakeHost struct {
	tokens map[string]string
	fail   bool
}

func (h *fakeHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.fail {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	parts := strings.Split(r.URL.Path, "/")
	// /rest/api/user/<accountID>/property/token
	if len(parts) < 7 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	accountID := parts[4]

	switch r.Method {
	case http.MethodGet:
		token, ok := h.tokens[accountID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"key":   "token",
			"value": map[string]string{"token": token},
		})
	case http.MethodPut, http.MethodPost:
		var prop struct {
			Value struct {
				Token string `json:"token"`
			} `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&prop); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		h.tokens[accountID] = prop.Value.Token
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// fakeProvider serves the external service's token exchange and profile
// endpoints.
func newFakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": testAccessToken})
	})
	mux.HandleFunc("/rest-api/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":           "user-1",
			"emailAddress": "alice@example.com",
			"fullName":     "Alice",
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type testEnv struct {
	server *appServer
	router *gin.Engine
	store  core.Store
	host   *fakeHost
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := newFakeProvider(t)
	host := &fakeHost{tokens: map[string]string{}}
	hostServer := httptest.NewServer(host)
	t.Cleanup(hostServer.Close)

	st := store.NewMemoryStore()
	cfg := serverConfig{
		Addr:        ":0",
		MCBaseURL:   provider.URL,
		ClientID:    "client-id",
		RedirectURI: "http://localhost:8080/callback",
	}
	s := newAppServer(cfg, st)
	s.hostClientFor = func(inst *core.Installation) *hostclient.Client {
		return hostclient.New(hostServer.URL, nil)
	}

	// Installed tenant every authed test signs against.
	h := installation.New(st)
	_, err := h.SaveInstallation(context.Background(), &installation.Payload{
		ClientKey:    testClientKey,
		SharedSecret: testSharedSecret,
		BaseURL:      hostServer.URL,
		ProductType:  "confluence",
		EventType:    "installed",
	}, testClientKey)
	if err != nil {
		t.Fatalf("failed to seed installation: %v", err)
	}

	return &testEnv{
		server: s,
		router: s.setupRouter(),
		store:  st,
		host:   host,
	}
}

// signHostJWT mints the host-signed identity assertion the authed routes
// expect.
func signHostJWT(t *testing.T, issuer, subject, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer,
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test JWT: %v", err)
	}
	return signed
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func authedRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "JWT "+signHostJWT(t, testClientKey, testAccountID, testSharedSecret))
	return req
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestInstalledWebhook(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"clientKey":"tenant-2","sharedSecret":"secret-2","baseUrl":"https://tenant-2.example.com/wiki","productType":"confluence","eventType":"installed"}`
	req := httptest.NewRequest(http.MethodPost, "/installed", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	w := env.do(req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST /installed status = %d, want 204, body %s", w.Code, w.Body.String())
	}

	inst, err := env.server.handshake.ClientInfo(context.Background(), "tenant-2")
	if err != nil {
		t.Fatalf("ClientInfo() unexpected error: %v", err)
	}
	if inst == nil || inst.SharedSecret != "secret-2" {
		t.Errorf("installed tenant not persisted: %+v", inst)
	}
}

func TestInstalledWebhook_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing client key", body: `{"sharedSecret":"secret"}`},
		{name: "missing shared secret", body: `{"clientKey":"tenant-2"}`},
		{name: "malformed json", body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/installed", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := env.do(req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("POST /installed status = %d, want 400", w.Code)
			}
		})
	}
}

func TestAuthedRoutesRejectAnonymous(t *testing.T) {
	env := newTestEnv(t)

	targets := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/check_token?state=some-state"},
		{http.MethodPost, "/logout"},
		{http.MethodGet, "/editor"},
	}

	for _, tt := range targets {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestAuthedRoutesRejectBadSignature(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/editor", nil)
	req.Header.Set("Authorization", "JWT "+signHostJWT(t, testClientKey, testAccountID, "wrong-secret"))
	w := env.do(req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for bad signature", w.Code)
	}
}

func TestAuthedRoutesRejectUnknownTenant(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/editor", nil)
	req.Header.Set("Authorization", "JWT "+signHostJWT(t, "never-installed", testAccountID, testSharedSecret))
	w := env.do(req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for unknown tenant", w.Code)
	}
}

func TestCheckToken_ClaimOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := ledger.New(env.store)
	if err := l.SetToken(ctx, "state-1", testAccessToken, 30*time.Minute); err != nil {
		t.Fatalf("failed to seed token: %v", err)
	}

	w := env.do(authedRequest(t, http.MethodGet, "/check_token?state=state-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /check_token status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var body struct {
		Token string            `json:"token"`
		User  *core.UserProfile `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Token != testAccessToken {
		t.Errorf("token = %q, want %q", body.Token, testAccessToken)
	}
	if body.User == nil || body.User.ID != "user-1" {
		t.Errorf("user = %+v, want id user-1", body.User)
	}

	// The claim also lands the token in the host property store.
	if got := env.host.tokens[testAccountID]; got != testAccessToken {
		t.Errorf("host property token = %q, want %q", got, testAccessToken)
	}

	// Second poll for the same state must come up empty.
	w = env.do(authedRequest(t, http.MethodGet, "/check_token?state=state-1"))
	if w.Code != http.StatusNotFound {
		t.Errorf("second claim status = %d, want 404", w.Code)
	}
}

func TestCheckToken_PendingState(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(authedRequest(t, http.MethodGet, "/check_token?state=still-pending"))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 while exchange is pending", w.Code)
	}
}

func TestCheckToken_MissingState(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(authedRequest(t, http.MethodGet, "/check_token"))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for missing state", w.Code)
	}
}

func TestCheckToken_HostSaveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.host.fail = true
	l := ledger.New(env.store)
	if err := l.SetToken(ctx, "state-1", testAccessToken, 30*time.Minute); err != nil {
		t.Fatalf("failed to seed token: %v", err)
	}

	w := env.do(authedRequest(t, http.MethodGet, "/check_token?state=state-1"))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when host save fails", w.Code)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.host.tokens[testAccountID] = "old-token"

	w := env.do(authedRequest(t, http.MethodPost, "/logout"))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /logout status = %d, want 200", w.Code)
	}
	if got := env.host.tokens[testAccountID]; got != "" {
		t.Errorf("host property token after logout = %q, want empty", got)
	}
}

func TestCallback_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	auth, err := env.server.oauth.AuthorizationData(ctx, "", "")
	if err != nil {
		t.Fatalf("AuthorizationData() unexpected error: %v", err)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/callback?code=auth-code&state="+auth.State, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /callback status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Login complete") {
		t.Errorf("callback body does not report success: %s", w.Body.String())
	}

	token, err := env.server.oauth.Token(ctx, auth.State)
	if err != nil {
		t.Fatalf("Token() unexpected error: %v", err)
	}
	if token != testAccessToken {
		t.Errorf("token after callback = %q, want %q", token, testAccessToken)
	}
}

func TestCallback_InvalidState(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/callback?code=auth-code&state=forged", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /callback status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Login failed") {
		t.Errorf("callback body does not report failure: %s", w.Body.String())
	}
}

func TestCallback_MissingParams(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/callback", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /callback status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Login failed") {
		t.Errorf("callback body does not report failure: %s", w.Body.String())
	}
}

func TestEditor_LoggedOut(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(authedRequest(t, http.MethodGet, "/editor"))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /editor status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var body struct {
		BaseURL     string `json:"baseUrl"`
		AccessToken string `json:"accessToken"`
		LoginURL    string `json:"loginUrl"`
		LoginState  string `json:"loginState"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.AccessToken != "" {
		t.Errorf("accessToken = %q, want empty when logged out", body.AccessToken)
	}
	if body.LoginURL == "" || body.LoginState == "" {
		t.Errorf("logged-out editor payload missing login URL or state: %+v", body)
	}
	if !strings.Contains(body.LoginURL, "state="+body.LoginState) {
		t.Errorf("loginUrl %q does not carry loginState %q", body.LoginURL, body.LoginState)
	}
}

func TestEditor_LoggedIn(t *testing.T) {
	env := newTestEnv(t)
	env.host.tokens[testAccountID] = testAccessToken

	w := env.do(authedRequest(t, http.MethodGet, "/editor"))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /editor status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var body struct {
		AccessToken string            `json:"accessToken"`
		User        *core.UserProfile `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.AccessToken != testAccessToken {
		t.Errorf("accessToken = %q, want %q", body.AccessToken, testAccessToken)
	}
	if body.User == nil || body.User.EmailAddress != "alice@example.com" {
		t.Errorf("user = %+v, want alice@example.com", body.User)
	}
}

func TestEditor_StaleToken(t *testing.T) {
	env := newTestEnv(t)
	env.host.tokens[testAccountID] = "revoked-token"

	w := env.do(authedRequest(t, http.MethodGet, "/editor"))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /editor status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var body struct {
		AccessToken string `json:"accessToken"`
		LoginURL    string `json:"loginUrl"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.AccessToken != "" {
		t.Errorf("accessToken = %q, want empty for revoked token", body.AccessToken)
	}
	if body.LoginURL == "" {
		t.Error("stale-token editor payload missing a fresh login URL")
	}
}

func TestMCPEndpointRequiresAuthorization(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST /mcp status = %d, want 401 without Authorization", w.Code)
	}
}
