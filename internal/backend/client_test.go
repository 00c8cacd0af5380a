package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRunAccepted(t *testing.T) {
	var gotForm StartRunForm
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/runs/run-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotForm))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "started"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.StartRun(context.Background(), "run-1", StartRunForm{
		RepoURL:     "https://github.com/acme/vault",
		Hypothesis:  "reentrancy in withdraw",
		Environment: "local",
	})
	require.NoError(t, err)
	assert.Equal(t, StartStatusStarted, res.Status)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, http.StatusAccepted, res.HTTPStatus)
	assert.Equal(t, "https://github.com/acme/vault", gotForm.RepoURL)
}

func TestStartRunAtCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":         "queued",
			"queue_position": 3,
			"message":        "all runners busy",
		})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).StartRun(context.Background(), "run-2", StartRunForm{})
	require.NoError(t, err)
	assert.True(t, IsCapacityStatus(res.Status))
	assert.False(t, IsRunningStatus(res.Status))
	assert.Equal(t, 3, res.QueuePosition)
}

func TestStartRunBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "repo_url is required"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StartRun(context.Background(), "run-3", StartRunForm{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo_url is required")
}

func TestCancelRun(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).CancelRun(context.Background(), "run-4"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/runs/run-4/cancel", path)
}

func TestCancelBeaconIgnoresBody(t *testing.T) {
	hit := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit++
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL).CancelBeacon("run-5"))
	assert.Equal(t, 1, hit)
}

func TestCancelBeaconReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).CancelBeacon("run-6")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "405")
}

func TestSaveWaitlistEmail(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/save-waitlist-email", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.SaveWaitlistEmail(context.Background(), "  dev@example.com "))
	assert.Equal(t, "dev@example.com", got["email"])

	// Blank emails are dropped client-side.
	got = nil
	require.NoError(t, c.SaveWaitlistEmail(context.Background(), "   "))
	assert.Nil(t, got)
}

func TestUserSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/sessions":
			json.NewEncoder(w).Encode([]UserSession{
				{RunID: "a", Name: "first"},
				{RunID: "b", Name: "second"},
			})
		case "/user/sessions/b":
			json.NewEncoder(w).Encode(UserSession{RunID: "b", Name: "second"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	sessions, err := c.UserSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	s, err := c.UserSessionByRunID(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "second", s.Name)

	_, err = c.UserSessionByRunID(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSocketURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/run-7"},
		{"https://api.example.com", "wss://api.example.com/ws/run-7"},
		{"https://api.example.com/v1/", "wss://api.example.com/v1/ws/run-7"},
		{"wss://api.example.com", "wss://api.example.com/ws/run-7"},
	}
	for _, tc := range cases {
		got, err := NewClient(tc.base).SocketURL("run-7")
		require.NoError(t, err, tc.base)
		assert.Equal(t, tc.want, got)
	}

	_, err := NewClient("ftp://example.com").SocketURL("run-7")
	assert.Error(t, err)
}

func TestCapacityStatusPredicate(t *testing.T) {
	for _, s := range []string{"at_capacity", "At Capacity", "queued", "already_queued"} {
		assert.True(t, IsCapacityStatus(s), s)
	}
	for _, s := range []string{"started", "already_running", ""} {
		assert.False(t, IsCapacityStatus(s), s)
	}
}
