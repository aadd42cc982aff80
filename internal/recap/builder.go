// Package recap projects a concluded session into a participant-facing
// summary. The projection is deterministic and performs no I/O, so it doubles
// as a fixture generator in tests.
package recap

import (
	"github.com/emberlive/backend/internal/models"
	"github.com/emberlive/backend/internal/tiers"
)

// Recap summarizes what a participant earned from a session.
type Recap struct {
	SessionID        string                 `json:"session_id"`
	TierName         string                 `json:"tier_name"`
	ViewerXP         int64                  `json:"viewer_xp"`
	FullStayBonusXP  int64                  `json:"full_stay_bonus_xp"`
	XPFromCoins      int64                  `json:"xp_from_coins"`
	TotalXP          int64                  `json:"total_xp"`
	CloutBonus       int64                  `json:"clout_bonus"`
	BadgesEarned     []string               `json:"badges_earned,omitempty"`
	GoalsReached     []tiers.CollectiveGoal `json:"goals_reached,omitempty"`
	IsFullCompletion bool                   `json:"is_full_completion"`
}

// Build computes the recap for a session. coinsSpent is the participant's own
// spend; collective goals are judged against the session-wide total.
func Build(session *models.Session, tier tiers.Definition, coinsSpent int64, badgesEarned []string) Recap {
	// Elapsed prefers EndedAt; for a still-live session the last heartbeat is
	// the best conservative bound.
	full := session.Elapsed(session.LastHeartbeatAt) >= tier.BaseDuration

	r := Recap{
		SessionID:        session.ID.String(),
		TierName:         tier.Name,
		ViewerXP:         tier.BaseXP,
		XPFromCoins:      coinsSpent * tiers.XPPerCoin,
		BadgesEarned:     badgesEarned,
		GoalsReached:     tiers.GoalsReached(session.TotalCoinsSpent),
		IsFullCompletion: full,
	}
	if full {
		r.FullStayBonusXP = tier.FullStayBonusXP
		r.CloutBonus = tier.ViewerCloutBonus
	}
	r.TotalXP = r.ViewerXP + r.FullStayBonusXP + r.XPFromCoins
	return r
}
