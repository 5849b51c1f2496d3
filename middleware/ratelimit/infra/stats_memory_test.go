package infra

import (
	"context"
	"testing"

	"throttle-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStatsStore_Record(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: "k", Outcome: domain.OutcomeAdmitted, Method: "GET", Path: "/"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "k", Outcome: domain.OutcomeThrottled, Method: "GET", Path: "/"})
	_ = s.Record(ctx, domain.StatsEvent{Outcome: domain.OutcomeUnruled, Method: "GET", Path: "/healthz"})

	assert.Equal(t, Counters{Admitted: 1, Throttled: 1, Unruled: 1}, s.Total())
	assert.Equal(t, Counters{Admitted: 1, Throttled: 1}, s.ByRoute()["GET /"])
	assert.Equal(t, Counters{Unruled: 1}, s.ByRoute()["GET /healthz"])
	assert.Equal(t, map[string]Counters{"k": {Admitted: 1, Throttled: 1}}, s.ByKey())
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "k", Outcome: domain.OutcomeAdmitted})
	assert.Empty(t, s.ByKey())
}
