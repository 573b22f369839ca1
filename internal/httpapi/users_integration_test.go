package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/ids"
	"github.com/eludris/eludris/internal/ratelimit"
	"github.com/eludris/eludris/internal/service"
)

// Signup, login, fetch self, delete. Requires DATABASE_URL with the schema
// applied; the instance runs without email so users start verified.
func TestUserLifecycle(t *testing.T) {
	pool := getTestDB(t)
	_, _ = pool.Exec(context.Background(), "DELETE FROM users WHERE username = 'ada'")

	conf, err := config.Parse([]byte(`instance_name = "TestInstance"`))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	secret := make([]byte, 128)
	svc := service.New(pool, client, conf, ids.New(0), secret, nil)
	srv := &Server{Svc: svc, Limiter: ratelimit.New(client)}
	router := srv.Routes()

	do := func(method, path, token string, body any) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do("POST", "/users", "", map[string]string{
		"username": "ada", "email": "ada@x.io", "password": "password1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Verified *bool `json:"verified"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Verified)
	require.True(t, *created.Verified)

	// Duplicate email conflicts.
	w = do("POST", "/users", "", map[string]string{
		"username": "ada2", "email": "ada@x.io", "password": "password1",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = do("POST", "/sessions", "", map[string]string{
		"identifier": "ada", "password": "password1",
		"platform": "Linux", "client": "pilfer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var login struct {
		Token   string `json:"token"`
		Session struct {
			ID       uint64 `json:"id"`
			Platform string `json:"platform"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	require.Equal(t, "linux", login.Session.Platform)

	w = do("GET", "/users/@me", login.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var self struct {
		Username string  `json:"username"`
		Email    *string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &self))
	require.Equal(t, "ada", self.Username)
	require.NotNil(t, self.Email)

	// Wrong password fails the login.
	w = do("POST", "/sessions", "", map[string]string{
		"identifier": "ada", "password": "wrong password",
		"platform": "linux", "client": "pilfer",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do("DELETE", "/users", login.Token, map[string]string{"password": "password1"})
	require.Equal(t, http.StatusNoContent, w.Code)

	// The token is dead after the tombstone.
	w = do("GET", "/users/@me", login.Token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
