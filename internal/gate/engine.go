// Package gate decides whether a creator may start a session at a given tier.
// Every function is a pure computation over the creator's completion history;
// nothing here performs I/O or fails.
package gate

import (
	"time"

	"github.com/emberlive/backend/internal/models"
	"github.com/emberlive/backend/internal/tiers"
)

// Config tunes the daily-limit rules. Zero values fall back to the inherited
// defaults.
type Config struct {
	DailyCap            int           // full completions per local day that count toward gates
	Cooldown            time.Duration // imposed after a counting same-day full completion
	CooldownMinDuration time.Duration // completions shorter than this never trigger a cooldown
}

// Engine evaluates tier gates and daily limits.
type Engine struct {
	cfg Config
}

// NewEngine creates a gate engine. Missing config fields get defaults
// (cap 3, cooldown 1h, minimum counting duration 5m).
func NewEngine(cfg Config) *Engine {
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	if cfg.CooldownMinDuration <= 0 {
		cfg.CooldownMinDuration = 5 * time.Minute
	}
	return &Engine{cfg: cfg}
}

// Result is the computed unlock snapshot for one tier. It is never persisted;
// callers cache it keyed by (creator, tier) and invalidate on session end.
type Result struct {
	Tier                int    `json:"tier"`
	TierName            string `json:"tier_name"`
	Unlocked            bool   `json:"unlocked"`
	LevelMet            bool   `json:"level_met"`
	CompletionsMet      bool   `json:"completions_met"`
	Level               int    `json:"level"`
	RequiredLevel       int    `json:"required_level"`
	Completions         int    `json:"completions"`
	CompletionsRequired int    `json:"completions_required"`
	CompletionsNeeded   int    `json:"completions_needed"`
}

// CheckGate evaluates a single tier's own conditions against the creator's
// level and completion history (newest first). Sequential-ladder ordering is
// enforced by HighestUnlocked, not here.
func (e *Engine) CheckGate(level int, history []models.CompletionRecord, tier tiers.Definition) Result {
	r := Result{
		Tier:                tier.Ordinal,
		TierName:            tier.Name,
		Level:               level,
		RequiredLevel:       tier.RequiredLevel,
		CompletionsRequired: tier.CompletionsRequired,
	}
	r.LevelMet = level >= tier.RequiredLevel

	if !tier.HasPrevious() {
		r.CompletionsMet = true
	} else {
		prev := tier.Ordinal - 1
		for _, rec := range history {
			if rec.Tier == prev && rec.IsFullCompletion && rec.CountsTowardGate {
				r.Completions++
			}
		}
		r.CompletionsMet = r.Completions >= tier.CompletionsRequired
		if !r.CompletionsMet {
			r.CompletionsNeeded = tier.CompletionsRequired - r.Completions
		}
	}

	r.Unlocked = r.LevelMet && r.CompletionsMet
	return r
}

// HighestUnlocked scans the ladder in order and returns the last unlocked
// tier before the first locked one. A higher tier is never reachable by
// skipping a locked lower tier, even if its own conditions would pass.
func (e *Engine) HighestUnlocked(level int, history []models.CompletionRecord) (tiers.Definition, bool) {
	var (
		highest tiers.Definition
		found   bool
	)
	for _, def := range tiers.Ladder {
		if !e.CheckGate(level, history, def).Unlocked {
			break
		}
		highest = def
		found = true
	}
	return highest, found
}

// Unlocked reports whether a tier is reachable through the sequential ladder.
func (e *Engine) Unlocked(level int, history []models.CompletionRecord, ordinal int) bool {
	highest, ok := e.HighestUnlocked(level, history)
	return ok && ordinal <= highest.Ordinal
}

// TodaysFullCompletions counts full completions recorded since the start of
// the local day.
func (e *Engine) TodaysFullCompletions(history []models.CompletionRecord, now time.Time) int {
	day := startOfDay(now)
	n := 0
	for _, rec := range history {
		if rec.IsFullCompletion && !rec.CompletedAt.Before(day) {
			n++
		}
	}
	return n
}

// IsPastDailyCap reports whether further full completions today would exceed
// the cap and therefore stop counting toward gates.
func (e *Engine) IsPastDailyCap(history []models.CompletionRecord, now time.Time) bool {
	return e.TodaysFullCompletions(history, now) >= e.cfg.DailyCap
}

// CooldownRemaining returns how long the creator must wait before starting
// again. Only a same-day full completion that ran at least the configured
// minimum triggers a cooldown; a stream that died early does not, which also
// serves as the crash-recovery escape hatch.
func (e *Engine) CooldownRemaining(history []models.CompletionRecord, now time.Time) time.Duration {
	last, ok := mostRecentToday(history, now)
	if !ok {
		return 0
	}
	if !last.IsFullCompletion {
		return 0
	}
	if time.Duration(last.DurationSeconds)*time.Second < e.cfg.CooldownMinDuration {
		return 0
	}
	remaining := e.cfg.Cooldown - now.Sub(last.CompletedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// XPMultiplier is 1.0 until the daily cap is reached, then 0.25.
func (e *Engine) XPMultiplier(history []models.CompletionRecord, now time.Time) float64 {
	if e.IsPastDailyCap(history, now) {
		return 0.25
	}
	return 1.0
}

// DailyStatus is the caller-facing daily limits summary.
type DailyStatus struct {
	CompletionsToday int     `json:"completions_today"`
	Remaining        int     `json:"remaining"`
	CooldownSeconds  int     `json:"cooldown_seconds"`
	XPMultiplier     float64 `json:"xp_multiplier"`
}

// DailyStatus computes the creator's current daily limits snapshot.
func (e *Engine) DailyStatus(history []models.CompletionRecord, now time.Time) DailyStatus {
	today := e.TodaysFullCompletions(history, now)
	remaining := e.cfg.DailyCap - today
	if remaining < 0 {
		remaining = 0
	}
	return DailyStatus{
		CompletionsToday: today,
		Remaining:        remaining,
		CooldownSeconds:  int(e.CooldownRemaining(history, now) / time.Second),
		XPMultiplier:     e.XPMultiplier(history, now),
	}
}

// mostRecentToday returns the newest completion recorded today. History is
// ordered newest first.
func mostRecentToday(history []models.CompletionRecord, now time.Time) (models.CompletionRecord, bool) {
	day := startOfDay(now)
	for _, rec := range history {
		if !rec.CompletedAt.Before(day) {
			return rec, true
		}
	}
	return models.CompletionRecord{}, false
}

func startOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
