// Package tiers defines the static session-length progression ladder and the
// collective coin goals shared by all sessions.
package tiers

import "time"

// Definition is one rung of the session-length ladder. Rungs are strictly
// sequential: unlocking rung N requires the gate of rung N-1 to be satisfied.
type Definition struct {
	Ordinal             int
	Name                string
	BaseDuration        time.Duration
	RequiredLevel       int
	CompletionsRequired int // full completions of the previous tier
	BaseXP              int64
	FullStayBonusXP     int64
	ViewerCloutBonus    int64
}

// BaseDurationSeconds returns the tier's base duration in whole seconds.
func (d Definition) BaseDurationSeconds() int {
	return int(d.BaseDuration / time.Second)
}

// HasPrevious reports whether the tier has a previous rung whose completions
// gate it.
func (d Definition) HasPrevious() bool {
	return d.Ordinal > 0
}

// Ladder is the progression table, ordered by ordinal. The first rung has no
// completion requirement.
var Ladder = []Definition{
	{Ordinal: 0, Name: "Spark", BaseDuration: 30 * time.Minute, RequiredLevel: 1, CompletionsRequired: 0, BaseXP: 50, FullStayBonusXP: 25, ViewerCloutBonus: 5},
	{Ordinal: 1, Name: "Flame", BaseDuration: time.Hour, RequiredLevel: 75, CompletionsRequired: 3, BaseXP: 120, FullStayBonusXP: 60, ViewerCloutBonus: 12},
	{Ordinal: 2, Name: "Blaze", BaseDuration: 4 * time.Hour, RequiredLevel: 150, CompletionsRequired: 3, BaseXP: 300, FullStayBonusXP: 150, ViewerCloutBonus: 30},
	{Ordinal: 3, Name: "Inferno", BaseDuration: 12 * time.Hour, RequiredLevel: 250, CompletionsRequired: 3, BaseXP: 800, FullStayBonusXP: 400, ViewerCloutBonus: 80},
	{Ordinal: 4, Name: "Supernova", BaseDuration: 36 * time.Hour, RequiredLevel: 400, CompletionsRequired: 3, BaseXP: 2000, FullStayBonusXP: 1000, ViewerCloutBonus: 200},
}

// ByOrdinal returns the tier definition for an ordinal, or false if the
// ordinal is outside the ladder.
func ByOrdinal(ordinal int) (Definition, bool) {
	if ordinal < 0 || ordinal >= len(Ladder) {
		return Definition{}, false
	}
	return Ladder[ordinal], true
}

// ByName returns the tier definition matching a name, or false.
func ByName(name string) (Definition, bool) {
	for _, d := range Ladder {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// XPPerCoin converts coins spent during a session into viewer XP.
const XPPerCoin = 2

// CollectiveGoal is a coin-spending threshold that, once crossed during a
// session, rewards every participant and extends the session.
type CollectiveGoal struct {
	Name             string
	CoinThreshold    int64
	ExtensionSeconds int
}

// CollectiveGoals lists the shared goals in ascending threshold order.
var CollectiveGoals = []CollectiveGoal{
	{Name: "Kindling", CoinThreshold: 500, ExtensionSeconds: 300},
	{Name: "Bonfire", CoinThreshold: 2000, ExtensionSeconds: 600},
	{Name: "Wildfire", CoinThreshold: 5000, ExtensionSeconds: 1200},
}

// GoalsReached returns every collective goal whose threshold is at or below
// the given coin total.
func GoalsReached(totalCoins int64) []CollectiveGoal {
	var out []CollectiveGoal
	for _, g := range CollectiveGoals {
		if g.CoinThreshold <= totalCoins {
			out = append(out, g)
		}
	}
	return out
}

// GoalsCrossed returns the goals whose thresholds lie in (before, after], i.e.
// the goals newly reached by a coin event that moved the total from before to
// after.
func GoalsCrossed(before, after int64) []CollectiveGoal {
	var out []CollectiveGoal
	for _, g := range CollectiveGoals {
		if g.CoinThreshold > before && g.CoinThreshold <= after {
			out = append(out, g)
		}
	}
	return out
}
