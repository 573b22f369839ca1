package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/config"
)

func testLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Unix(1_700_000_000, 0)
	l := New(client)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestProcessWindow(t *testing.T) {
	l, now := testLimiter(t)
	ctx := context.Background()
	conf := config.RateLimitConf{ResetAfter: 5, Limit: 2}

	res, err := l.Process(ctx, "get_instance_info", "10.0.0.1", conf)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RequestCount)
	require.EqualValues(t, now.UnixMilli(), res.LastReset)

	res, err = l.Process(ctx, "get_instance_info", "10.0.0.1", conf)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.RequestCount)

	// Third request within the window is rejected, count unchanged.
	res, err = l.Process(ctx, "get_instance_info", "10.0.0.1", conf)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	require.LessOrEqual(t, apiErr.RetryAfter, uint64(5000))
	require.EqualValues(t, 2, res.RequestCount)

	// A different identifier has its own bucket.
	res, err = l.Process(ctx, "get_instance_info", "10.0.0.2", conf)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RequestCount)

	// After the window elapses the bucket resets.
	*now = now.Add(5 * time.Second)
	res, err = l.Process(ctx, "get_instance_info", "10.0.0.1", conf)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RequestCount)
	require.EqualValues(t, now.UnixMilli(), res.LastReset)
}

func TestProcessSeparateBuckets(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()
	conf := config.RateLimitConf{ResetAfter: 5, Limit: 1}

	_, err := l.Process(ctx, "create_message", "42", conf)
	require.NoError(t, err)
	_, err = l.Process(ctx, "get_user", "42", conf)
	require.NoError(t, err)
	_, err = l.Process(ctx, "create_message", "42", conf)
	require.Error(t, err)
}

func TestProcessUploadByteQuota(t *testing.T) {
	l, now := testLimiter(t)
	ctx := context.Background()
	conf := config.EffisRateLimitConf{ResetAfter: 60, Limit: 10, FileSizeLimit: 100}

	res, err := l.ProcessUpload(ctx, "attachments", "10.0.0.1", conf, 60)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.RequestCount)

	// Second upload would push the window over the byte quota.
	_, err = l.ProcessUpload(ctx, "attachments", "10.0.0.1", conf, 50)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "RATE_LIMITED", apiErr.Type)

	// A smaller upload still fits.
	res, err = l.ProcessUpload(ctx, "attachments", "10.0.0.1", conf, 40)
	require.NoError(t, err)
	require.EqualValues(t, 2, res.RequestCount)

	// The quota clears with the window.
	*now = now.Add(time.Minute)
	_, err = l.ProcessUpload(ctx, "attachments", "10.0.0.1", conf, 90)
	require.NoError(t, err)
}

func TestProcessUploadOversizeFirstRequest(t *testing.T) {
	l, _ := testLimiter(t)
	conf := config.EffisRateLimitConf{ResetAfter: 60, Limit: 10, FileSizeLimit: 100}

	_, err := l.ProcessUpload(context.Background(), "attachments", "10.0.0.1", conf, 101)
	require.Error(t, err)
}

func TestResultHeaders(t *testing.T) {
	h := http.Header{}
	Result{ResetAfterMS: 5000, Limit: 2, LastReset: 1700000000000, RequestCount: 1}.SetHeaders(h)

	require.Equal(t, "5000", h.Get("X-RateLimit-Reset"))
	require.Equal(t, "2", h.Get("X-RateLimit-Max"))
	require.Equal(t, "1700000000000", h.Get("X-RateLimit-Last-Reset"))
	require.Equal(t, "1", h.Get("X-RateLimit-Request-Count"))
}
