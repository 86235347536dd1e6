// Package quota implements the daily counter reset policy.
//
// Counters such as the promo redemption quota and the game-play quota are
// stored with the calendar day they were last refilled. They are refilled
// lazily: the first request that observes a day key other than today's
// writes the default value back together with today's key. Days are
// calendar days in a single reference timezone, never elapsed durations.
package quota

import (
	"time"

	"github.com/Devign20164/ForgePh/pkg/model"
)

const (
	DefaultRedemptions = 3
	DefaultGamePlays   = 5
	DefaultTimezone    = "Asia/Manila"
)

// Decision is the outcome of evaluating one counter at one instant.
type Decision struct {
	ShouldReset bool
	Today       string // day key the counter belongs to after a reset
	Value       int    // value to write when ShouldReset is set
}

// Rule describes a single daily counter.
type Rule struct {
	Location *time.Location
	Default  int
}

// Evaluate decides whether a counter last refilled on lastDay is stale at
// now. It has no side effects, so evaluating twice in the same day yields
// the same answer, and any number of idle days still produces one reset.
func (r Rule) Evaluate(lastDay string, now time.Time) Decision {
	today := model.DayKey(now, r.Location)
	return Decision{
		ShouldReset: lastDay != today,
		Today:       today,
		Value:       r.Default,
	}
}

// Policy holds the rules for every daily counter on an account.
type Policy struct {
	Location          *time.Location
	RedemptionDefault int
	GamePlayDefault   int
}

// DefaultPolicy returns the production policy, falling back to UTC when the
// timezone database is unavailable.
func DefaultPolicy() Policy {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}
	return Policy{
		Location:          loc,
		RedemptionDefault: DefaultRedemptions,
		GamePlayDefault:   DefaultGamePlays,
	}
}

// Redemptions returns the rule for the promo redemption counter.
func (p Policy) Redemptions() Rule {
	return Rule{Location: p.Location, Default: p.RedemptionDefault}
}

// GamePlays returns the rule for the game-play counter.
func (p Policy) GamePlays() Rule {
	return Rule{Location: p.Location, Default: p.GamePlayDefault}
}

// Today returns the current day key in the policy's timezone.
func (p Policy) Today(now time.Time) string {
	return model.DayKey(now, p.Location)
}
