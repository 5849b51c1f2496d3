package application

import (
	"context"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozenThrottle() *infra.MemoryThrottle {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return infra.NewMemoryThrottle(infra.WithClock(func() time.Time { return now }))
}

func TestLayer_FivePerTenSeconds(t *testing.T) {
	t.Parallel()

	policy := domain.MustPolicy(domain.PerPeriod(5, 10*time.Second))
	layer, rec := newTestLayer(t, keyProvider(policy), frozenThrottle())
	h := layer.Wrap(rec.handler)

	for i := range 5 {
		resp, err := h(context.Background(), "user-42")
		require.NoError(t, err)
		assert.Equal(t, 200, resp.status, "request %d", i+1)
	}
	assert.Equal(t, 5, rec.onSuccess)
	assert.Equal(t, uint64(4), rec.details[0].Decision.Remaining)
	assert.Equal(t, uint64(0), rec.details[4].Decision.Remaining)

	resp, err := h(context.Background(), "user-42")
	require.NoError(t, err)
	assert.Equal(t, 429, resp.status)
	assert.Equal(t, 5, rec.next)

	require.Len(t, rec.onError, 1)
	var rle *domain.RateLimitError
	require.ErrorAs(t, rec.onError[0], &rle)
	assert.Equal(t, uint64(5), rle.Decision.Limit)
	assert.Equal(t, 2*time.Second, rle.Decision.RetryAfter)
}

func TestLayer_BurstOfOne(t *testing.T) {
	t.Parallel()

	policy := domain.MustPolicy(domain.PerSecond(1))
	svc, err := NewService[string](keyProvider(policy), frozenThrottle())
	require.NoError(t, err)

	first, err := svc.Enforce(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAdmitted, first.Kind)

	second, err := svc.Enforce(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeThrottled, second.Kind)
	assert.Greater(t, second.Decision.RetryAfter, time.Duration(0))
}

func TestLayer_CostConsumesSeveralTokens(t *testing.T) {
	t.Parallel()

	policy := domain.MustPolicy(domain.PerMinute(10, domain.WithCost(4)))
	svc, err := NewService[string](keyProvider(policy), frozenThrottle())
	require.NoError(t, err)

	var kinds []domain.OutcomeKind
	for range 3 {
		out, err := svc.Enforce(context.Background(), "bulk")
		require.NoError(t, err)
		kinds = append(kinds, out.Kind)
	}
	assert.Equal(t, []domain.OutcomeKind{
		domain.OutcomeAdmitted,
		domain.OutcomeAdmitted,
		domain.OutcomeThrottled,
	}, kinds)
}
