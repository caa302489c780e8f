package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/omni-embed-demo/internal/audit"
	"github.com/yourusername/omni-embed-demo/internal/auth"
	"github.com/yourusername/omni-embed-demo/internal/config"
	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/omni"
	"github.com/yourusername/omni-embed-demo/internal/ratelimit"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

type testApp struct {
	srv    *httptest.Server
	client *http.Client
	db     *storage.DB
	omni   *fakeOmni
}

type fakeOmni struct {
	srv  *httptest.Server
	fail atomic.Bool
}

func newFakeOmni(t *testing.T) *fakeOmni {
	f := &fakeOmni{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.fail.Load() {
			http.Error(w, `{"error":"invalid secret"}`, http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"url": "https://omni.example/embed/login?externalId=" + body["externalId"],
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := storage.Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	fake := newFakeOmni(t)
	cfg := &config.Config{
		AppEnv:                   config.EnvDevelopment,
		Port:                     "8080",
		SessionSecret:            "0123456789abcdef0123456789abcdef",
		SessionCookieName:        "session",
		SessionMaxAge:            24 * time.Hour,
		SessionCookieSameSite:    "lax",
		CSRFMaxAge:               time.Hour,
		RateLimitAttempts:        5,
		RateLimitWindow:          5 * time.Minute,
		RateLimitStore:           config.RateLimitStoreMemory,
		OmniBaseURL:              fake.srv.URL,
		OmniSecret:               "omni-secret",
		OmniContentPathAllowlist: []string{"/dashboards/abc123"},
		OmniTimeout:              time.Second,
		CORSAllowedOrigins:       []string{"http://localhost:8080"},
	}

	logger := logging.Discard()
	recorder := audit.NewDirectRecorder(db.AuditLogs())
	manager, err := auth.NewManager(cfg, db.Users(), recorder, logger,
		auth.WithPasswordHasher(auth.NewPasswordHasher(auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})))
	require.NoError(t, err)

	engine, err := New(Deps{
		Config:   cfg,
		Auth:     manager,
		Limiter:  ratelimit.NewMemoryLimiter(),
		Omni:     omni.NewService(cfg, nil),
		Recorder: recorder,
		Logger:   logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testApp{srv: srv, client: client, db: db, omni: fake}
}

type response struct {
	status int
	header http.Header
	body   map[string]any
	raw    string
}

func (a *testApp) send(t *testing.T, method, path, body string, headers map[string]string) response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{status: resp.StatusCode, header: resp.Header, raw: string(raw)}
	_ = json.Unmarshal(raw, &out.body)
	return out
}

func (a *testApp) register(t *testing.T, email, password, customerID string) response {
	t.Helper()
	return a.send(t, http.MethodPost, "/api/register",
		`{"email":"`+email+`","password":"`+password+`","customer_id":"`+customerID+`"}`, nil)
}

func (a *testApp) login(t *testing.T, email, password string) response {
	t.Helper()
	return a.send(t, http.MethodPost, "/api/login", `{"email":"`+email+`","password":"`+password+`"}`, nil)
}

func (a *testApp) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	u, err := url.Parse(a.srv.URL)
	require.NoError(t, err)
	for _, c := range a.client.Jar.Cookies(u) {
		if c.Name == "session" {
			return c
		}
	}
	return nil
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	res := app.send(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ok", res.body["status"])
	assert.NotEmpty(t, res.header.Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	app := newTestApp(t)

	res := app.send(t, http.MethodOptions, "/api/login", "", map[string]string{
		"Origin":                         "http://localhost:8080",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "content-type,x-csrf-token",
	})
	assert.Equal(t, http.StatusNoContent, res.status)
	assert.Equal(t, "http://localhost:8080", res.header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", res.header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, strings.ToLower(res.header.Get("Access-Control-Allow-Headers")), "x-csrf-token")

	// 許可していないオリジンには CORS ヘッダーを返さない
	res = app.send(t, http.MethodOptions, "/api/logout", "", map[string]string{
		"Origin":                        "http://evil.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Empty(t, res.header.Get("Access-Control-Allow-Origin"))
}

func TestCORSExposesCSRFHeader(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.register(t, "a@x.com", "longenough1", "c1").status)

	res := app.send(t, http.MethodPost, "/api/login", `{"email":"a@x.com","password":"longenough1"}`,
		map[string]string{"Origin": "http://localhost:8080"})
	require.Equal(t, http.StatusOK, res.status, res.raw)
	assert.Equal(t, "http://localhost:8080", res.header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(res.header.Get("Access-Control-Expose-Headers")), "x-csrf-token")
}

func TestRegisterLoginMeLogout(t *testing.T) {
	app := newTestApp(t)

	res := app.register(t, "a@x.com", "longenough1", "c1")
	require.Equal(t, http.StatusOK, res.status, res.raw)
	assert.EqualValues(t, 1, res.body["user_id"])

	res = app.register(t, "a@x.com", "longenough1", "c2")
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "REGISTRATION_FAILED", res.body["code"])

	res = app.login(t, "a@x.com", "longenough1")
	require.Equal(t, http.StatusOK, res.status, res.raw)
	csrfToken := res.header.Get(auth.CSRFHeader)
	require.NotEmpty(t, csrfToken)
	setCookie := res.header.Get("Set-Cookie")
	assert.Contains(t, setCookie, "HttpOnly")
	assert.Contains(t, setCookie, "SameSite=Lax")
	require.NotNil(t, app.sessionCookie(t))

	res = app.send(t, http.MethodGet, "/api/me", "", nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "a@x.com", res.body["email"])
	assert.Equal(t, "c1", res.body["customer_id"])

	// CSRF トークンなしのログアウトは拒否され、セッションは残る
	res = app.send(t, http.MethodPost, "/api/logout", "", nil)
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, "FORBIDDEN", res.body["code"])
	assert.Equal(t, http.StatusOK, app.send(t, http.MethodGet, "/api/me", "", nil).status)

	res = app.send(t, http.MethodPost, "/api/logout", "", map[string]string{auth.CSRFHeader: csrfToken})
	require.Equal(t, http.StatusOK, res.status, res.raw)
	assert.Nil(t, app.sessionCookie(t))

	res = app.send(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	records, err := app.db.AuditLogs().ListByUser(context.Background(), 1, 10)
	require.NoError(t, err)
	var actions []string
	for _, r := range records {
		actions = append(actions, r.Action)
	}
	assert.ElementsMatch(t, []string{"register", "login", "logout"}, actions)
}

func TestWeakPasswordIsRejected(t *testing.T) {
	app := newTestApp(t)
	res := app.register(t, "a@x.com", "short", "c1")
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "WEAK_PASSWORD", res.body["code"])
}

func TestLoginIsRateLimited(t *testing.T) {
	app := newTestApp(t)

	for i := 0; i < 5; i++ {
		res := app.login(t, "nobody@x.com", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, res.status)
	}
	res := app.login(t, "nobody@x.com", "wrong-password")
	assert.Equal(t, http.StatusTooManyRequests, res.status)
	assert.Equal(t, "TOO_MANY_REQUESTS", res.body["code"])
	assert.NotEmpty(t, res.header.Get("Retry-After"))

	// 登録は別のエンドポイントとして数える
	res = app.register(t, "a@x.com", "longenough1", "c1")
	assert.Equal(t, http.StatusOK, res.status)
}

func TestEmbedURL(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.register(t, "a@x.com", "longenough1", "c1").status)

	res := app.send(t, http.MethodGet, "/api/embed/url?content_path=/dashboards/abc123", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	require.Equal(t, http.StatusOK, app.login(t, "a@x.com", "longenough1").status)

	res = app.send(t, http.MethodGet, "/api/embed/url?content_path=/dashboards/abc123", "", nil)
	require.Equal(t, http.StatusOK, res.status, res.raw)
	assert.Equal(t, "https://omni.example/embed/login?externalId=c1", res.body["url"])

	res = app.send(t, http.MethodGet, "/api/embed/url?content_path=/dashboards/other", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "CONTENT_PATH_NOT_ALLOWED", res.body["code"])

	app.omni.fail.Store(true)
	res = app.send(t, http.MethodGet, "/api/embed/url?content_path=/dashboards/abc123", "", nil)
	assert.Equal(t, http.StatusBadGateway, res.status)
	assert.Equal(t, "EMBED_URL_FAILED", res.body["code"])
	assert.NotContains(t, res.raw, "invalid secret")

	records, err := app.db.AuditLogs().ListByUser(context.Background(), 1, 10)
	require.NoError(t, err)
	var embeds int
	for _, r := range records {
		if r.Action == "generate_embed_url" {
			embeds++
			assert.Equal(t, "/dashboards/abc123", r.Resource)
		}
	}
	assert.Equal(t, 1, embeds)
}

func TestMePageRendersForLoggedInUser(t *testing.T) {
	app := newTestApp(t)
	require.Equal(t, http.StatusOK, app.register(t, "a@x.com", "longenough1", "c1").status)

	res := app.send(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusFound, res.status)
	assert.Equal(t, "/login", res.header.Get("Location"))

	require.Equal(t, http.StatusOK, app.login(t, "a@x.com", "longenough1").status)
	res = app.send(t, http.MethodGet, "/me", "", nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.raw, "a@x.com")
	assert.Contains(t, res.raw, `<meta name="csrf-token"`)
	assert.Contains(t, res.raw, "/embed?contentPath=")
}
