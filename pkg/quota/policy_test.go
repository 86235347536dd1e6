package quota_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Devign20164/ForgePh/pkg/quota"
)

var pht = time.FixedZone("PHT", 8*60*60)

func testPolicy() quota.Policy {
	return quota.Policy{Location: pht, RedemptionDefault: 3, GamePlayDefault: 5}
}

func TestRuleEvaluate(t *testing.T) {
	t.Parallel()

	type tcase struct {
		lastDay   string
		now       time.Time
		wantReset bool
		wantToday string
	}

	tcases := map[string]tcase{
		"never_reset": {
			lastDay:   "",
			now:       time.Date(2024, 6, 1, 9, 0, 0, 0, pht),
			wantReset: true,
			wantToday: "2024-06-01",
		},
		"already_today": {
			lastDay:   "2024-06-01",
			now:       time.Date(2024, 6, 1, 23, 59, 59, 0, pht),
			wantReset: false,
			wantToday: "2024-06-01",
		},
		"yesterday": {
			lastDay:   "2024-05-31",
			now:       time.Date(2024, 6, 1, 0, 0, 1, 0, pht),
			wantReset: true,
			wantToday: "2024-06-01",
		},
		"five_idle_days": {
			lastDay:   "2024-05-27",
			now:       time.Date(2024, 6, 1, 12, 0, 0, 0, pht),
			wantReset: true,
			wantToday: "2024-06-01",
		},
		// 16:30 UTC on May 31 is already June 1 in Manila.
		"day_boundary_follows_reference_zone": {
			lastDay:   "2024-05-31",
			now:       time.Date(2024, 5, 31, 16, 30, 0, 0, time.UTC),
			wantReset: true,
			wantToday: "2024-06-01",
		},
		// Less than 24h elapsed but a new calendar day.
		"short_gap_across_midnight": {
			lastDay:   "2024-05-31",
			now:       time.Date(2024, 6, 1, 0, 5, 0, 0, pht),
			wantReset: true,
			wantToday: "2024-06-01",
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := testPolicy().Redemptions().Evaluate(tc.lastDay, tc.now)
			assert.Equal(t, tc.wantReset, got.ShouldReset)
			assert.Equal(t, tc.wantToday, got.Today)
			assert.Equal(t, 3, got.Value)
		})
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	t.Parallel()

	rule := testPolicy().GamePlays()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, pht)

	first := rule.Evaluate("2024-05-30", now)
	second := rule.Evaluate("2024-05-30", now)
	assert.Equal(t, first, second)
	assert.Equal(t, 5, first.Value)

	// After the reset has been written the day key matches.
	assert.False(t, rule.Evaluate(first.Today, now).ShouldReset)
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := quota.DefaultPolicy()
	assert.Equal(t, quota.DefaultRedemptions, p.RedemptionDefault)
	assert.Equal(t, quota.DefaultGamePlays, p.GamePlayDefault)
	assert.NotNil(t, p.Location)
}
