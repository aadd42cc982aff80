package gate

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emberlive/backend/internal/models"
	"github.com/emberlive/backend/internal/tiers"
)

var testNow = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

// record builds a completion, newest records should be prepended by callers.
func record(tier int, full, counts bool, completedAt time.Time, durationSeconds int) models.CompletionRecord {
	return models.CompletionRecord{
		ID:               uuid.New(),
		CreatorID:        uuid.New(),
		SessionID:        uuid.New(),
		Tier:             tier,
		DurationSeconds:  durationSeconds,
		IsFullCompletion: full,
		CompletedAt:      completedAt,
		CountsTowardGate: counts,
	}
}

func sparkFulls(n int) []models.CompletionRecord {
	var history []models.CompletionRecord
	for i := 0; i < n; i++ {
		history = append(history, record(0, true, true, testNow.Add(-time.Duration(i+1)*24*time.Hour), 1800))
	}
	return history
}

func TestFirstTierNeedsNoCompletions(t *testing.T) {
	e := NewEngine(Config{})
	spark := tiers.Ladder[0]

	r := e.CheckGate(1, nil, spark)
	if !r.Unlocked || !r.CompletionsMet {
		t.Errorf("Spark should unlock at level 1 with no history: %+v", r)
	}
	if r := e.CheckGate(0, nil, spark); r.Unlocked {
		t.Error("Spark should stay locked below required level")
	}
}

func TestFlameRequiresThreeFullSparks(t *testing.T) {
	e := NewEngine(Config{})
	flame := tiers.Ladder[1]

	// Level 80, only 2 full Spark completions.
	r := e.CheckGate(80, sparkFulls(2), flame)
	if r.Unlocked {
		t.Error("Flame should be locked with 2 completions")
	}
	if !r.LevelMet || r.CompletionsMet {
		t.Errorf("expected levelMet && !completionsMet: %+v", r)
	}
	if r.CompletionsNeeded != 1 {
		t.Errorf("completionsNeeded = %d, want 1", r.CompletionsNeeded)
	}

	r = e.CheckGate(80, sparkFulls(3), flame)
	if !r.Unlocked {
		t.Errorf("Flame should unlock with 3 full Sparks at level 80: %+v", r)
	}
}

func TestCompletionsLockedRegardlessOfLevel(t *testing.T) {
	e := NewEngine(Config{})
	flame := tiers.Ladder[1]

	if r := e.CheckGate(9999, sparkFulls(2), flame); r.Unlocked {
		t.Error("missing completions must lock the tier regardless of level")
	}
}

func TestPartialAndNonCountingCompletionsDoNotCount(t *testing.T) {
	e := NewEngine(Config{})
	flame := tiers.Ladder[1]

	history := []models.CompletionRecord{
		record(0, false, true, testNow.Add(-24*time.Hour), 900),  // partial
		record(0, true, false, testNow.Add(-48*time.Hour), 1800), // over daily cap
		record(1, true, true, testNow.Add(-72*time.Hour), 3600),  // wrong tier
	}
	r := e.CheckGate(80, history, flame)
	if r.Completions != 0 {
		t.Errorf("counted %d completions, want 0", r.Completions)
	}
}

func TestHighestUnlockedNeverSkipsALockedTier(t *testing.T) {
	e := NewEngine(Config{})

	// High level, Flame completions present, but zero Spark completions:
	// Blaze's own conditions pass while Flame is locked.
	var history []models.CompletionRecord
	for i := 0; i < 3; i++ {
		history = append(history, record(1, true, true, testNow.Add(-time.Duration(i+1)*24*time.Hour), 3600))
	}

	highest, ok := e.HighestUnlocked(9999, history)
	if !ok {
		t.Fatal("Spark should always be unlocked at high level")
	}
	if highest.Ordinal != 0 {
		t.Errorf("highest unlocked = %s, want Spark", highest.Name)
	}
	if e.Unlocked(9999, history, 2) {
		t.Error("Blaze must not be reachable past a locked Flame")
	}
}

func TestDailyCapAndMultiplier(t *testing.T) {
	e := NewEngine(Config{})

	var history []models.CompletionRecord
	for i := 0; i < 3; i++ {
		history = append(history, record(0, true, true, testNow.Add(-time.Duration(i+1)*time.Hour), 1800))
	}
	if !e.IsPastDailyCap(history, testNow) {
		t.Error("3 full completions today should hit the cap")
	}
	if got := e.XPMultiplier(history, testNow); got != 0.25 {
		t.Errorf("xp multiplier = %v, want 0.25", got)
	}

	status := e.DailyStatus(history, testNow)
	if status.CompletionsToday != 3 || status.Remaining != 0 {
		t.Errorf("daily status = %+v", status)
	}

	// Yesterday's completions never count toward today's cap.
	old := sparkFulls(5)
	if e.IsPastDailyCap(old, testNow) {
		t.Error("past-day completions should not count toward the daily cap")
	}
	if got := e.XPMultiplier(old, testNow); got != 1.0 {
		t.Errorf("xp multiplier = %v, want 1.0", got)
	}
}

func TestCooldownAfterFullCompletion(t *testing.T) {
	e := NewEngine(Config{})

	history := []models.CompletionRecord{
		record(0, true, true, testNow.Add(-10*time.Minute), 1800),
	}
	remaining := e.CooldownRemaining(history, testNow)
	if remaining != 50*time.Minute {
		t.Errorf("cooldown = %v, want 50m", remaining)
	}

	// Cooldown fully elapsed.
	history[0].CompletedAt = testNow.Add(-2 * time.Hour)
	if got := e.CooldownRemaining(history, testNow); got != 0 {
		t.Errorf("cooldown = %v, want 0 after expiry", got)
	}
}

func TestShortStreamSkipsCooldown(t *testing.T) {
	e := NewEngine(Config{})

	// A stream that died in under 5 minutes triggers no cooldown even if
	// flagged as a full completion.
	history := []models.CompletionRecord{
		record(0, true, true, testNow.Add(-time.Minute), 240),
	}
	if got := e.CooldownRemaining(history, testNow); got != 0 {
		t.Errorf("cooldown = %v, want 0 for sub-minimum stream", got)
	}
}

func TestPartialCompletionSkipsCooldown(t *testing.T) {
	e := NewEngine(Config{})

	history := []models.CompletionRecord{
		record(0, false, true, testNow.Add(-time.Minute), 1700),
	}
	if got := e.CooldownRemaining(history, testNow); got != 0 {
		t.Errorf("cooldown = %v, want 0 for partial completion", got)
	}
}

func TestYesterdayCompletionSkipsCooldown(t *testing.T) {
	e := NewEngine(Config{})

	history := []models.CompletionRecord{
		record(0, true, true, testNow.Add(-20*time.Hour), 1800),
	}
	if got := e.CooldownRemaining(history, testNow); got != 0 {
		t.Errorf("cooldown = %v, want 0 for yesterday's completion", got)
	}
}

func TestConfigOverrides(t *testing.T) {
	e := NewEngine(Config{DailyCap: 1, Cooldown: 10 * time.Minute, CooldownMinDuration: time.Minute})

	history := []models.CompletionRecord{
		record(0, true, true, testNow.Add(-5*time.Minute), 90),
	}
	if !e.IsPastDailyCap(history, testNow) {
		t.Error("cap of 1 should be hit after one completion")
	}
	if got := e.CooldownRemaining(history, testNow); got != 5*time.Minute {
		t.Errorf("cooldown = %v, want 5m with overridden config", got)
	}
}
