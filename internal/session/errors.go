package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/emberlive/backend/internal/gate"
)

// Rejection errors are expected, user-actionable outcomes. Handlers map them
// to 4xx responses; they are never logged as faults.
var (
	ErrTierLocked      = errors.New("tier locked")
	ErrAlreadyLive     = errors.New("a live session already exists")
	ErrOnCooldown      = errors.New("on cooldown")
	ErrNoActiveSession = errors.New("no active session")
	ErrUnknownTier     = errors.New("unknown tier")
)

// TierLockedError carries the gate snapshot so the caller can show the exact
// unlock requirement.
type TierLockedError struct {
	Result gate.Result
}

func (e *TierLockedError) Error() string {
	return fmt.Sprintf("tier %s locked: need level %d (have %d), %d more full completions",
		e.Result.TierName, e.Result.RequiredLevel, e.Result.Level, e.Result.CompletionsNeeded)
}

func (e *TierLockedError) Is(target error) bool { return target == ErrTierLocked }

// CooldownError carries the remaining wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("on cooldown for %s", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool { return target == ErrOnCooldown }
