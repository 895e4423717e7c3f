package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/courier/internal/models"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := newTestStore(t)
	srv := New(store, nil, Options{DemoEmail: "demo@x.com"})
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestSignupAndLogin(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/signup", map[string]string{
		"email": "a@x.com", "username": "alice", "password": "secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Identity
	decodeData(t, resp, &created)
	assert.NotEmpty(t, created.ID)

	resp = postJSON(t, ts.URL+"/auth/login", map[string]string{
		"email": "a@x.com", "password": "secret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		User  models.Identity `json:"user"`
		Token string          `json:"token"`
	}
	decodeData(t, resp, &login)
	assert.Equal(t, created.ID, login.User.ID)
	assert.NotEmpty(t, login.Token)

	// Bad password never issues a token.
	resp = postJSON(t, ts.URL+"/auth/login", map[string]string{
		"email": "a@x.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthMe(t *testing.T) {
	srv, ts := newTestServer(t)
	user, _ := srv.Store.CreateUser("a@x.com", "alice", "pw")
	token, _ := srv.Store.IssueToken(user.ID)

	req, _ := http.NewRequest("GET", ts.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.Identity
	decodeData(t, resp, &got)
	assert.Equal(t, user.ID, got.ID)
}

func TestAuthMeInvalidToken(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest("GET", ts.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Store.CreateUser("alice@x.com", "alice", "pw")
	srv.Store.CreateUser("bob@y.org", "bob", "pw")

	resp, err := http.Get(ts.URL + "/users/search?email=x.com")
	require.NoError(t, err)
	var users []models.Identity
	decodeData(t, resp, &users)
	require.Len(t, users, 1)
	assert.Equal(t, "alice@x.com", users[0].Email)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)
	alice, _ := srv.Store.CreateUser("a@x.com", "alice", "pw")
	bob, _ := srv.Store.CreateUser("b@x.com", "bob", "pw")
	srv.Store.SaveMessage(models.OutboundDraft{FromUserID: bob.ID, ToUserID: alice.ID, Text: "hey"})

	resp, err := http.Get(ts.URL + "/chat/history?userId=" + alice.ID + "&peerId=" + bob.ID)
	require.NoError(t, err)
	var msgs []models.Message
	decodeData(t, resp, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hey", msgs[0].Content)
}

func TestExternalLoginRedirect(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.Store.CreateUser("demo@x.com", "demo", "pw")

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/auth/google?redirect_uri=" + url.QueryEscape("http://127.0.0.1:9999/cb"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	token := loc.Query().Get("token")
	require.NotEmpty(t, token)

	// The token in the redirect is a working bearer token.
	user, err := srv.Store.GetUserByToken(token)
	require.NoError(t, err)
	assert.Equal(t, "demo@x.com", user.Email)
}
