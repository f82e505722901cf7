package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"authcache/internal/cache"
	"authcache/internal/config"
	"authcache/internal/data"
	"authcache/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitWriter(io.Discard, "error")
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	clock  *fakeClock
}

func newTestEnv(t *testing.T, cfg config.Config, deps Deps) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)}
	if deps.Cache == nil {
		deps.Cache = cache.New(filepath.Join(t.TempDir(), "data-cache.json"), cfg.CacheTTL, cache.WithClock(clock.Now))
	}
	deps.DataOptions = append(deps.DataOptions, data.WithClock(clock.Now))

	srv := httptest.NewServer(New(cfg, deps).Router())
	t.Cleanup(srv.Close)

	return &testEnv{t: t, srv: srv, client: newClient(t), clock: clock}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (e *testEnv) do(req *http.Request) (int, gjson.Result) {
	e.t.Helper()
	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp.StatusCode, gjson.ParseBytes(b)
}

func (e *testEnv) get(path string) (int, gjson.Result) {
	e.t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	require.NoError(e.t, err)
	return e.do(req)
}

func (e *testEnv) postJSON(path string, body any) (int, gjson.Result) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	return e.postRaw(path, "application/json", buf.String())
}

func (e *testEnv) postRaw(path, contentType, body string) (int, gjson.Result) {
	e.t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, strings.NewReader(body))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", contentType)
	return e.do(req)
}

func creds(username, password string) map[string]string {
	return map[string]string{"username": username, "password": password}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})
	code, body := e.get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Get("status").String())
}

func TestDataRequiresSession(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})
	code, body := e.get("/data")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, body.Get("success").Bool())
	assert.Equal(t, msgAuthRequired, body.Get("error").String())
}

func TestRegisterThenDataIsCached(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})

	code, body := e.postJSON("/register", creds("alice", "hunter2x"))
	require.Equal(t, http.StatusOK, code)
	assert.True(t, body.Get("success").Bool())

	code, first := e.get("/data")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, first.Get("success").Bool())
	assert.False(t, first.Get("fromCache").Bool())
	assert.True(t, strings.HasPrefix(first.Get("data").String(), "Your data: "))
	assert.Equal(t, "10/19/2026, 9:30:00 AM", first.Get("timestamp").String())

	e.clock.Advance(59 * time.Second)
	code, second := e.get("/data")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, second.Get("fromCache").Bool())
	assert.Equal(t, first.Get("data").String(), second.Get("data").String())
	assert.Equal(t, first.Get("timestamp").String(), second.Get("timestamp").String())

	e.clock.Advance(time.Second)
	code, third := e.get("/data")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, third.Get("fromCache").Bool())
	assert.NotEqual(t, first.Get("data").String(), third.Get("data").String())
}

func TestRegisterDuplicate(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})
	code, _ := e.postJSON("/register", creds("alice", "hunter2x"))
	require.Equal(t, http.StatusOK, code)

	e.client = newClient(t)
	code, body := e.postJSON("/register", creds("alice", "other-pass"))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, msgUserExists, body.Get("error").String())

	code, _ = e.get("/data")
	assert.Equal(t, http.StatusUnauthorized, code, "a failed registration must not start a session")
}

func TestCredentialValidation(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantError   string
	}{
		{name: "empty body", contentType: "application/json", body: "", wantError: msgCredentialsMissing},
		{name: "missing password", contentType: "application/json", body: `{"username":"alice"}`, wantError: msgCredentialsMissing},
		{name: "missing username", contentType: "application/json", body: `{"password":"hunter2x"}`, wantError: msgCredentialsMissing},
		{name: "malformed json", contentType: "application/json", body: `{"username":`, wantError: msgInvalidBody},
		{name: "form without password", contentType: "application/x-www-form-urlencoded", body: "username=alice", wantError: msgCredentialsMissing},
	}

	for _, path := range []string{"/register", "/login"} {
		for _, tt := range tests {
			t.Run(path+" "+tt.name, func(t *testing.T) {
				e := newTestEnv(t, config.Default(), Deps{})
				code, body := e.postRaw(path, tt.contentType, tt.body)
				assert.Equal(t, http.StatusBadRequest, code)
				assert.False(t, body.Get("success").Bool())
				assert.Equal(t, tt.wantError, body.Get("error").String())
			})
		}
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		demo     bool
		username string
		password string
		wantCode int
	}{
		{name: "registered user", demo: true, username: "alice", password: "hunter2x", wantCode: http.StatusOK},
		{name: "wrong password", demo: true, username: "alice", password: "hunter3x", wantCode: http.StatusUnauthorized},
		{name: "unknown user", demo: true, username: "bob", password: "hunter2x", wantCode: http.StatusUnauthorized},
		{name: "demo account", demo: true, username: "admin", password: "12345", wantCode: http.StatusOK},
		{name: "demo account disabled", demo: false, username: "admin", password: "12345", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Demo = tt.demo
			e := newTestEnv(t, cfg, Deps{})

			code, _ := e.postJSON("/register", creds("alice", "hunter2x"))
			require.Equal(t, http.StatusOK, code)
			e.client = newClient(t)

			code, body := e.postJSON("/login", creds(tt.username, tt.password))
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantCode == http.StatusOK, body.Get("success").Bool())

			code, _ = e.get("/data")
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, http.StatusOK, code)
			} else {
				assert.Equal(t, http.StatusUnauthorized, code)
			}
		})
	}
}

func TestLoginFormEncoded(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})
	form := url.Values{"username": {"admin"}, "password": {"12345"}}
	code, body := e.postRaw("/login", "application/x-www-form-urlencoded", form.Encode())
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Get("success").Bool())
}

func TestCheckAuthAndLogout(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})

	code, body := e.get("/check-auth")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, body.Get("authenticated").Bool())
	assert.False(t, body.Get("user").Exists())

	code, _ = e.postJSON("/login", creds("admin", "12345"))
	require.Equal(t, http.StatusOK, code)

	_, body = e.get("/check-auth")
	assert.True(t, body.Get("authenticated").Bool())
	assert.Equal(t, "admin", body.Get("user.username").String())

	code, body = e.postJSON("/logout", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Get("success").Bool())

	_, body = e.get("/check-auth")
	assert.False(t, body.Get("authenticated").Bool())
	code, _ = e.get("/data")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSessionCookieAttributes(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/login", strings.NewReader(`{"username":"admin","password":"12345"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var sid *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "sid" {
			sid = c
		}
	}
	require.NotNil(t, sid, "session cookie must be set")
	assert.True(t, sid.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, sid.SameSite)
	assert.False(t, sid.Secure)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), sid.Expires, time.Minute)
}

type failingCache struct{}

func (failingCache) Read() (*cache.Entry, error) { return nil, nil }
func (failingCache) Write(cache.Entry) error     { return errors.New("read-only filesystem") }

func TestDataInternalError(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{Cache: failingCache{}})
	code, _ := e.postJSON("/login", creds("admin", "12345"))
	require.Equal(t, http.StatusOK, code)

	code, body := e.get("/data")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, body.Get("success").Bool())
	assert.Equal(t, msgInternal, body.Get("error").String())
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})
	_, _ = e.postJSON("/login", creds("admin", "12345"))
	_, _ = e.get("/data")
	_, _ = e.get("/data")

	resp, err := e.client.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(b)
	assert.Contains(t, out, `authcache_cache_requests_total{result="hit"} 1`)
	assert.Contains(t, out, `authcache_cache_requests_total{result="miss"} 1`)
	assert.Contains(t, out, `authcache_auth_attempts_total{op="login",result="ok"} 1`)
}

func TestStaticFrontEnd(t *testing.T) {
	e := newTestEnv(t, config.Default(), Deps{})
	for _, path := range []string{"/", "/script.js", "/style.css"} {
		resp, err := e.client.Get(e.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
