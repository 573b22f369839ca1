package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/config"
	"github.com/eludris/eludris/internal/ids"
	"github.com/eludris/eludris/internal/ratelimit"
	"github.com/eludris/eludris/internal/service"
)

// newTestServer builds a Server on miniredis with no database. Endpoints
// that only touch config and cache are testable through it.
func newTestServer(t *testing.T, confToml string) (*Server, http.Handler) {
	t.Helper()

	conf, err := config.Parse([]byte(confToml))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	secret := make([]byte, 128)
	svc := service.New(nil, client, conf, ids.New(0), secret, nil)
	srv := &Server{Svc: svc, Limiter: ratelimit.New(client)}
	return srv, srv.Routes()
}

// getTestDB connects to the database named by DATABASE_URL, skipping the
// test when it is unset or when running in short mode.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
