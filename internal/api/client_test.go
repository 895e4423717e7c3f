package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/search", r.URL.Path)
		assert.Equal(t, "a@x.com", r.URL.Query().Get("email"))
		w.Write([]byte(`{"data":[{"id":"u1","email":"a@x.com","username":"alice","status":"online"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	users, err := client.SearchUsers(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "alice", users[0].Username)
}

func TestSearchUsersEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	users, err := NewClient(srv.URL).SearchUsers(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestWhoAmI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"id":"u1","email":"a@x.com"}}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL).WhoAmI(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
}

func TestWhoAmIRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).WhoAmI(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestFetchHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		assert.Equal(t, "u2", r.URL.Query().Get("peerId"))
		w.Write([]byte(`{"data":[{"id":"m1","fromUserId":"u2","toUserId":"u1","content":"hey","type":"text","createdAt":"2025-01-02T15:04:05Z"}]}`))
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL).FetchHistory(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC), msgs[0].CreatedAt)
}

func TestServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"db down"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchHistory(context.Background(), "u1", "u2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestExternalLoginURL(t *testing.T) {
	client := NewClient("http://localhost:8080")
	got := client.ExternalLoginURL("google", "http://127.0.0.1:9999/callback")
	assert.Equal(t, "http://localhost:8080/auth/google?redirect_uri=http%3A%2F%2F127.0.0.1%3A9999%2Fcallback", got)
}
