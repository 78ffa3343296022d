package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runZeroInc/sshlogin/account"
	"github.com/runZeroInc/sshlogin/internal/sshtest"
	"github.com/runZeroInc/sshlogin/strategy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T, host string, port int, login Options) *gin.Engine {
	t.Helper()
	s, err := strategy.New(strategy.Config{Host: host, Port: port, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	s = s.WithLookup(account.Static{"alice": 1001})

	a := New(nil).Use(s)
	return NewRouter(a, RouterConfig{
		Strategy:      s.Name(),
		SessionSecret: []byte("test-secret"),
		Login:         login,
	})
}

func setupServer(t *testing.T, login Options) (*sshtest.Server, *gin.Engine) {
	srv := sshtest.NewServer(t, sshtest.Config{
		Passwords: map[string]string{"alice": "correct horse"},
	})
	return srv, setupRouter(t, srv.Host, srv.Port, login)
}

func postForm(r http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestLoginSessionLogout(t *testing.T) {
	_, r := setupServer(t, Options{})

	w := postForm(r, "/login", url.Values{"username": {"alice"}, "password": {"correct horse"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.EqualValues(t, 1001, user["uid"])

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	w = get(r, "/me", cookies...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user = decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.EqualValues(t, 1001, user["id"])

	w = postForm(r, "/logout", nil, cookies...)
	require.Equal(t, http.StatusNoContent, w.Code)
	cleared := w.Result().Cookies()
	require.NotEmpty(t, cleared)

	w = get(r, "/me", cleared...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeWithoutSession(t *testing.T) {
	_, r := setupServer(t, Options{})
	w := get(r, "/me")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejected(t *testing.T) {
	_, r := setupServer(t, Options{})

	w := postForm(r, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, strategy.DefaultRejectedMessage, decode(t, w)["message"])
	assert.Empty(t, w.Result().Cookies())
}

func TestLoginBadRequest(t *testing.T) {
	srv, r := setupServer(t, Options{})

	w := postForm(r, "/login", url.Values{"username": {"alice"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing credentials", decode(t, w)["error"])

	_, r = setupServer(t, Options{BadRequestMessage: "Missing username"})
	w = postForm(r, "/login", url.Values{"password": {"correct horse"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing username", decode(t, w)["error"])

	assert.Zero(t, srv.Connections())
}

func TestLoginQueryAndJSON(t *testing.T) {
	_, r := setupServer(t, Options{})

	w := postForm(r, "/login?username=alice&password=correct+horse", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/login?password=wrong", strings.NewReader(`{"username":"alice","password":"correct horse"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestLoginUnreachable(t *testing.T) {
	host, port := sshtest.UnusedAddr(t)
	r := setupRouter(t, host, port, Options{})

	w := postForm(r, "/login", url.Values{"username": {"alice"}, "password": {"correct horse"}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "login service unavailable", decode(t, w)["error"])
}

func TestLoginRedirects(t *testing.T) {
	_, r := setupServer(t, Options{SuccessRedirect: "/home", FailureRedirect: "/login"})

	w := postForm(r, "/login", url.Values{"username": {"alice"}, "password": {"correct horse"}})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/home", w.Header().Get("Location"))

	w = postForm(r, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error="+url.QueryEscape(strategy.DefaultRejectedMessage), w.Header().Get("Location"))
}

func TestLoginFailureRedirectKeepsQuery(t *testing.T) {
	_, r := setupServer(t, Options{FailureRedirect: "/login?next=%2Fhome#form"})

	w := postForm(r, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "form", loc.Fragment)
	assert.Equal(t, "/home", loc.Query().Get("next"))
	assert.Equal(t, strategy.DefaultRejectedMessage, loc.Query().Get("error"))
}

func TestFailureTarget(t *testing.T) {
	assert.Equal(t, "/login", failureTarget("/login", nil))
	assert.Equal(t, "/login", failureTarget("/login", strategy.Info{"message": ""}))
	assert.Equal(t, "/login?error=nope&next=x", failureTarget("/login?next=x", strategy.Info{"message": "nope"}))
	assert.Equal(t, "/login?error=nope", failureTarget("/login?error=old", strategy.Info{"message": "nope"}))
}

func TestUnknownStrategy(t *testing.T) {
	a := New(nil)
	r := gin.New()
	r.POST("/login", a.Authenticate("ldap", Options{}))

	w := postForm(r, "/login", url.Values{"username": {"alice"}, "password": {"x"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	_, ok := a.Strategy("ldap")
	assert.False(t, ok)
}
