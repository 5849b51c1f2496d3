package infra_test

import (
	"context"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"
	"throttle-gateway/middleware/ratelimit/infra/celltest"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConn_ThrottleRoundTrip(t *testing.T) {
	srv := celltest.Run(t)
	conn := infra.NewRedisConn(srv.Client(t))

	reply, err := conn.Do(context.Background(), "CL.THROTTLE", "user-42", 0, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(1), int64(0), int64(-1), int64(60)}, reply)

	reply, err = conn.Do(context.Background(), "CL.THROTTLE", "user-42", 0, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply.([]any)[0])
	assert.Equal(t, int64(2), srv.Calls())
}

func TestRedisConn_ServerErrorIsReturned(t *testing.T) {
	srv := celltest.Run(t)
	conn := infra.NewRedisConn(srv.Client(t))

	_, err := conn.Do(context.Background(), "CL.THROTTLE", "k", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong number of arguments")
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := infra.Connect(context.Background(), infra.RedisConfig{
		URL:            "redis://" + mr.Addr() + "/0",
		RetryAttempts:  1,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	assert.NoError(t, infra.Healthcheck(rdb)(context.Background()))
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := infra.Connect(context.Background(), infra.RedisConfig{
		URL:            "://nope",
		ConnectTimeout: time.Second,
	})
	assert.ErrorIs(t, err, infra.ErrParseRedisURL)
}

func TestConnect_NotReady(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := infra.Connect(context.Background(), infra.RedisConfig{
		URL:            "redis://" + addr,
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: time.Second,
	})
	assert.ErrorIs(t, err, infra.ErrRedisNotReady)
}

func TestRedisStatsStore_Record(t *testing.T) {
	srv := celltest.Run(t)
	stats := infra.NewRedisStatsStore(srv.Client(t),
		infra.WithStatsPrefix("rl:stats:"),
		infra.WithStatsTrackKeys(true),
	)
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, stats.Record(ctx, domain.StatsEvent{Key: "k1", Outcome: domain.OutcomeAdmitted, Method: "GET", Path: "/a", Resource: "api", At: at}))
	require.NoError(t, stats.Record(ctx, domain.StatsEvent{Key: "k1", Outcome: domain.OutcomeThrottled, Method: "GET", Path: "/a", Resource: "api", At: at}))
	require.NoError(t, stats.Record(ctx, domain.StatsEvent{Outcome: domain.OutcomeUnruled, Method: "GET", Path: "/healthz", At: at}))

	assert.Equal(t, "1", srv.HGet("rl:stats:total", "admitted"))
	assert.Equal(t, "1", srv.HGet("rl:stats:total", "throttled"))
	assert.Equal(t, "1", srv.HGet("rl:stats:total", "unruled"))
	assert.Equal(t, "1", srv.HGet("rl:stats:minute:202610190830", "throttled"))
	assert.Equal(t, "1", srv.HGet("rl:stats:route", "GET /a:admitted"))
	assert.Equal(t, "1", srv.HGet("rl:stats:resource", "api:throttled"))
	assert.Equal(t, "1", srv.HGet("rl:stats:key:k1", "admitted"))
	assert.False(t, srv.Exists("rl:stats:key:"))
	assert.Greater(t, srv.TTL("rl:stats:key:k1"), time.Duration(0))
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *infra.RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{}))
}
