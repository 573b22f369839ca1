// Package ratelimit implements the cache-backed fixed-window rate limiter
// shared by all three services.
//
// Each (identifier, bucket) pair owns a Redis hash at
// rate_limit:<identifier>:<bucket> holding the window start and the number
// of admissions so far. Upload buckets additionally track the cumulative
// uploaded byte size for the window.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eludris/eludris/internal/apierror"
	"github.com/eludris/eludris/internal/config"
)

// Result is the bucket state after an admission attempt. It backs the rate
// limit headers and is valid whether the attempt was admitted or rejected.
type Result struct {
	ResetAfterMS uint64
	Limit        uint32
	LastReset    uint64
	RequestCount uint32
}

// SetHeaders writes the four rate limit headers carried on every response.
func (r Result) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Reset", strconv.FormatUint(r.ResetAfterMS, 10))
	h.Set("X-RateLimit-Max", strconv.FormatUint(uint64(r.Limit), 10))
	h.Set("X-RateLimit-Last-Reset", strconv.FormatUint(r.LastReset, 10))
	h.Set("X-RateLimit-Request-Count", strconv.FormatUint(uint64(r.RequestCount), 10))
}

// Limiter admits requests against Redis-backed buckets. Races between
// concurrent admissions may overshoot a window by one request; the windows
// are coarse enough for that to be acceptable.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// New creates a Limiter on the given Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// Process attempts an admission. The returned Result is always usable for
// headers; a RATE_LIMITED error means the request must be rejected.
func (l *Limiter) Process(ctx context.Context, bucket, identifier string, conf config.RateLimitConf) (Result, error) {
	res := Result{
		ResetAfterMS: uint64(conf.ResetAfter) * 1000,
		Limit:        conf.Limit,
	}
	now := uint64(l.now().UnixMilli())
	key := fmt.Sprintf("rate_limit:%s:%s", identifier, bucket)

	lastReset, count, _, found, err := l.read(ctx, key, false)
	if err != nil {
		return res, err
	}
	if !found {
		if err := l.client.HSet(ctx, key, "last_reset", now, "request_count", 1).Err(); err != nil {
			return res, fmt.Errorf("initialize bucket %s: %w", key, err)
		}
		res.LastReset = now
		res.RequestCount = 1
		return res, nil
	}

	if now-lastReset >= res.ResetAfterMS {
		if err := l.reset(ctx, key, now, false); err != nil {
			return res, err
		}
		lastReset = now
		count = 0
	}
	res.LastReset = lastReset

	if count >= conf.Limit {
		res.RequestCount = count
		return res, apierror.RateLimited(lastReset + res.ResetAfterMS - now)
	}
	if err := l.client.HIncrBy(ctx, key, "request_count", 1).Err(); err != nil {
		return res, fmt.Errorf("increment bucket %s: %w", key, err)
	}
	res.RequestCount = count + 1
	return res, nil
}

// ProcessUpload attempts an admission for an upload of size bytes. On top of
// the request count, the window's cumulative uploaded size must stay within
// the bucket's byte quota.
func (l *Limiter) ProcessUpload(ctx context.Context, bucket, identifier string, conf config.EffisRateLimitConf, size uint64) (Result, error) {
	res := Result{
		ResetAfterMS: uint64(conf.ResetAfter) * 1000,
		Limit:        conf.Limit,
	}
	now := uint64(l.now().UnixMilli())
	key := fmt.Sprintf("rate_limit:%s:%s", identifier, bucket)

	lastReset, count, totalSize, found, err := l.read(ctx, key, true)
	if err != nil {
		return res, err
	}
	if !found {
		if size > conf.FileSizeLimit {
			res.LastReset = now
			return res, apierror.RateLimited(res.ResetAfterMS)
		}
		err := l.client.HSet(ctx, key,
			"last_reset", now, "request_count", 1, "total_size", size).Err()
		if err != nil {
			return res, fmt.Errorf("initialize bucket %s: %w", key, err)
		}
		res.LastReset = now
		res.RequestCount = 1
		return res, nil
	}

	if now-lastReset >= res.ResetAfterMS {
		if err := l.reset(ctx, key, now, true); err != nil {
			return res, err
		}
		lastReset = now
		count = 0
		totalSize = 0
	}
	res.LastReset = lastReset

	if count >= conf.Limit || totalSize+size > conf.FileSizeLimit {
		res.RequestCount = count
		return res, apierror.RateLimited(lastReset + res.ResetAfterMS - now)
	}
	pipe := l.client.Pipeline()
	pipe.HIncrBy(ctx, key, "request_count", 1)
	pipe.HIncrBy(ctx, key, "total_size", int64(size))
	if _, err := pipe.Exec(ctx); err != nil {
		return res, fmt.Errorf("increment bucket %s: %w", key, err)
	}
	res.RequestCount = count + 1
	return res, nil
}

func (l *Limiter) read(ctx context.Context, key string, upload bool) (lastReset uint64, count uint32, totalSize uint64, found bool, err error) {
	fields := []string{"last_reset", "request_count"}
	if upload {
		fields = append(fields, "total_size")
	}
	vals, err := l.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("read bucket %s: %w", key, err)
	}
	if vals[0] == nil || vals[1] == nil {
		return 0, 0, 0, false, nil
	}
	lastReset, err = parseField(vals[0], key, "last_reset")
	if err != nil {
		return 0, 0, 0, false, err
	}
	count64, err := parseField(vals[1], key, "request_count")
	if err != nil {
		return 0, 0, 0, false, err
	}
	if upload && vals[2] != nil {
		totalSize, err = parseField(vals[2], key, "total_size")
		if err != nil {
			return 0, 0, 0, false, err
		}
	}
	return lastReset, uint32(count64), totalSize, true, nil
}

func (l *Limiter) reset(ctx context.Context, key string, now uint64, upload bool) error {
	pipe := l.client.Pipeline()
	pipe.Del(ctx, key)
	if upload {
		pipe.HSet(ctx, key, "last_reset", now, "request_count", 0, "total_size", 0)
	} else {
		pipe.HSet(ctx, key, "last_reset", now, "request_count", 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reset bucket %s: %w", key, err)
	}
	return nil
}

func parseField(val any, key, field string) (uint64, error) {
	s, ok := val.(string)
	if !ok {
		return 0, fmt.Errorf("bucket %s field %s has unexpected type %T", key, field, val)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bucket %s field %s: %w", key, field, err)
	}
	return n, nil
}
