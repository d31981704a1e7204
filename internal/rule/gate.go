package rule

import (
	"context"
	"fmt"
	"time"

	"automation-engine/internal/logger"
)

// GateDecision is the frequency gate's verdict on a matched rule.
type GateDecision int

const (
	// GateFire fires the rule now; counters were already advanced.
	GateFire GateDecision = iota
	// GateSuppressed suppresses the firing (once-policy exhausted or a
	// lost counter race); recorded as a skipped execution.
	GateSuppressed
	// GateRateLimited suppresses inside the rate-limit window; recorded as
	// a rate_limited execution.
	GateRateLimited
	// GateBuffered appended the match to the rule's digest buffer; a
	// synthetic firing happens at period rollover.
	GateBuffered
)

// digestMaxSamples caps the sample payloads carried by one digest firing.
const digestMaxSamples = 10

// FrequencyGate decides whether a rule match becomes a firing, given the
// rule's frequency policy and historical execution state.
type FrequencyGate struct {
	rules   RuleStore
	digests DigestStore
	logger  *logger.Logger
}

// NewFrequencyGate creates a gate over the given stores.
func NewFrequencyGate(rules RuleStore, digests DigestStore, log *logger.Logger) *FrequencyGate {
	return &FrequencyGate{
		rules:   rules,
		digests: digests,
		logger:  log,
	}
}

// ShouldFire applies the rule's frequency policy. For policies that fire,
// the rule's lastExecutedAt/executionCount are advanced compare-and-set as
// part of the decision, so two concurrent dispatches can never both fire.
// A store failure leaves the rule untouched and aborts the evaluation.
func (g *FrequencyGate) ShouldFire(ctx context.Context, r *Rule, now time.Time, payload map[string]any) (GateDecision, error) {
	switch r.Frequency {
	case FrequencyOnce:
		if r.ExecutionCount > 0 {
			return GateSuppressed, nil
		}
		return g.claim(ctx, r, now)

	case FrequencyEveryOccurrence, "":
		return g.claim(ctx, r, now)

	case FrequencyRateLimited:
		limit := time.Duration(r.RateLimitMinutes) * time.Minute
		if !r.LastExecutedAt.IsZero() && now.Sub(r.LastExecutedAt) < limit {
			return GateRateLimited, nil
		}
		decision, err := g.claim(ctx, r, now)
		if err != nil {
			return decision, err
		}
		if decision == GateSuppressed {
			// Lost the compare-and-set: a concurrent dispatch fired
			// inside the same window.
			return GateRateLimited, nil
		}
		return decision, nil

	case FrequencyHourlyDigest, FrequencyDailyDigest:
		start, end := digestPeriod(r.Frequency, now)
		if err := g.digests.Append(ctx, r.ID, start, end, payload, digestMaxSamples); err != nil {
			return GateSuppressed, fmt.Errorf("failed to buffer digest match: %w", err)
		}
		return GateBuffered, nil

	default:
		return GateSuppressed, fmt.Errorf("unknown frequency policy: %s", r.Frequency)
	}
}

// claim advances the rule counters; losing the compare-and-set suppresses.
func (g *FrequencyGate) claim(ctx context.Context, r *Rule, now time.Time) (GateDecision, error) {
	ok, err := g.rules.MarkExecuted(ctx, r.ID, r.LastExecutedAt, now)
	if err != nil {
		return GateSuppressed, fmt.Errorf("failed to mark rule executed: %w", err)
	}
	if !ok {
		g.logger.Debug("lost execution counter race",
			"ruleId", r.ID)
		return GateSuppressed, nil
	}
	return GateFire, nil
}

// digestPeriod returns the UTC period boundaries containing now.
func digestPeriod(f Frequency, now time.Time) (time.Time, time.Time) {
	utc := now.UTC()
	if f == FrequencyHourlyDigest {
		start := utc.Truncate(time.Hour)
		return start, start.Add(time.Hour)
	}
	start := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
