package rule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/logger"
	"automation-engine/internal/rule"
	"automation-engine/internal/store"
)

func newGateFixture(t *testing.T, r *rule.Rule) (*rule.FrequencyGate, *store.RuleStore, *store.DigestStore) {
	t.Helper()
	rules := store.NewRuleStore()
	digests := store.NewDigestStore()
	require.NoError(t, rules.Save(context.Background(), r))
	return rule.NewFrequencyGate(rules, digests, logger.NewNop()), rules, digests
}

func reload(t *testing.T, rules *store.RuleStore, id string) *rule.Rule {
	t.Helper()
	r, err := rules.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestGateOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := &rule.Rule{ID: "r-once", OrgID: "org-1", Frequency: rule.FrequencyOnce, Enabled: true}
	gate, rules, _ := newGateFixture(t, r)

	decision, err := gate.ShouldFire(ctx, reload(t, rules, r.ID), now, nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateFire, decision)

	// Second match is suppressed forever.
	decision, err = gate.ShouldFire(ctx, reload(t, rules, r.ID), now.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateSuppressed, decision)
}

func TestGateEveryOccurrence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := &rule.Rule{ID: "r-every", OrgID: "org-1", Frequency: rule.FrequencyEveryOccurrence, Enabled: true}
	gate, rules, _ := newGateFixture(t, r)

	for i := 0; i < 3; i++ {
		decision, err := gate.ShouldFire(ctx, reload(t, rules, r.ID), now.Add(time.Duration(i)*time.Second), nil)
		require.NoError(t, err)
		assert.Equal(t, rule.GateFire, decision)
	}

	final := reload(t, rules, r.ID)
	assert.Equal(t, uint64(3), final.ExecutionCount)
}

func TestGateRateLimited(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := &rule.Rule{
		ID:               "r-rate",
		OrgID:            "org-1",
		Frequency:        rule.FrequencyRateLimited,
		RateLimitMinutes: 10,
		Enabled:          true,
	}
	gate, rules, _ := newGateFixture(t, r)

	decision, err := gate.ShouldFire(ctx, reload(t, rules, r.ID), now, nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateFire, decision)

	// Inside the window.
	decision, err = gate.ShouldFire(ctx, reload(t, rules, r.ID), now.Add(9*time.Minute), nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateRateLimited, decision)

	// Window elapsed.
	decision, err = gate.ShouldFire(ctx, reload(t, rules, r.ID), now.Add(10*time.Minute), nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateFire, decision)
}

func TestGateRateLimitedLostRace(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := &rule.Rule{
		ID:               "r-race",
		OrgID:            "org-1",
		Frequency:        rule.FrequencyRateLimited,
		RateLimitMinutes: 10,
		Enabled:          true,
	}
	gate, rules, _ := newGateFixture(t, r)

	// Both dispatches read the same stale counters; only one may fire.
	stale1 := reload(t, rules, r.ID)
	stale2 := reload(t, rules, r.ID)

	decision, err := gate.ShouldFire(ctx, stale1, now, nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateFire, decision)

	decision, err = gate.ShouldFire(ctx, stale2, now, nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateRateLimited, decision)

	final := reload(t, rules, r.ID)
	assert.Equal(t, uint64(1), final.ExecutionCount)
}

func TestGateDigestBuffers(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	r := &rule.Rule{ID: "r-digest", OrgID: "org-1", Frequency: rule.FrequencyHourlyDigest, Enabled: true}
	gate, rules, digests := newGateFixture(t, r)

	for i := 0; i < 12; i++ {
		decision, err := gate.ShouldFire(ctx, reload(t, rules, r.ID), now, map[string]any{"i": i})
		require.NoError(t, err)
		assert.Equal(t, rule.GateBuffered, decision)
	}

	// Buffering never advances execution counters.
	assert.Equal(t, uint64(0), reload(t, rules, r.ID).ExecutionCount)

	// Nothing due before the period rolls over.
	due, err := digests.CollectDue(ctx, now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = digests.CollectDue(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 12, due[0].Count)
	assert.Len(t, due[0].Samples, 10) // sample cap
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), due[0].PeriodStart)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), due[0].PeriodEnd)

	// Collection drained the buffer.
	due, err = digests.CollectDue(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestGateDailyDigestPeriod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 18, 45, 0, 0, time.UTC)
	r := &rule.Rule{ID: "r-daily", OrgID: "org-1", Frequency: rule.FrequencyDailyDigest, Enabled: true}
	gate, rules, digests := newGateFixture(t, r)

	decision, err := gate.ShouldFire(ctx, reload(t, rules, r.ID), now, nil)
	require.NoError(t, err)
	assert.Equal(t, rule.GateBuffered, decision)

	due, err := digests.CollectDue(ctx, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), due[0].PeriodStart)
}

func TestGateUnknownFrequency(t *testing.T) {
	ctx := context.Background()
	r := &rule.Rule{ID: "r-bad", OrgID: "org-1", Frequency: "fortnightly", Enabled: true}
	gate, rules, _ := newGateFixture(t, r)

	_, err := gate.ShouldFire(ctx, reload(t, rules, r.ID), time.Now(), nil)
	assert.Error(t, err)
}
