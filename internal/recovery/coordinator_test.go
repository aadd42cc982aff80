package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emberlive/backend/internal/models"
)

type fakeSource struct {
	sessions []models.Session
	listErr  error
	crashed  []uuid.UUID
}

func (f *fakeSource) ListLive(ctx context.Context) ([]models.Session, error) {
	return f.sessions, f.listErr
}

func (f *fakeSource) MarkCrashed(ctx context.Context, id uuid.UUID) error {
	f.crashed = append(f.crashed, id)
	return nil
}

type fakeLifecycle struct {
	adopted  []*models.Session
	ended    []uuid.UUID
	adoptErr error
}

func (f *fakeLifecycle) Adopt(s *models.Session) error {
	if f.adoptErr != nil {
		return f.adoptErr
	}
	f.adopted = append(f.adopted, s)
	return nil
}

func (f *fakeLifecycle) End(ctx context.Context, creatorID uuid.UUID) (*models.CompletionRecord, error) {
	f.ended = append(f.ended, creatorID)
	return &models.CompletionRecord{ID: uuid.New(), CreatorID: creatorID}, nil
}

type fakePresence struct {
	flags   map[uuid.UUID]uuid.UUID
	cleared []uuid.UUID
}

func newFakePresence() *fakePresence {
	return &fakePresence{flags: make(map[uuid.UUID]uuid.UUID)}
}

func (f *fakePresence) LiveSession(ctx context.Context, creatorID uuid.UUID) (uuid.UUID, bool, error) {
	id, ok := f.flags[creatorID]
	return id, ok, nil
}

func (f *fakePresence) ScanLive(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID, len(f.flags))
	for k, v := range f.flags {
		out[k] = v
	}
	return out, nil
}

func (f *fakePresence) SetLive(ctx context.Context, creatorID, sessionID uuid.UUID) error {
	f.flags[creatorID] = sessionID
	return nil
}

func (f *fakePresence) ClearLive(ctx context.Context, creatorID uuid.UUID) error {
	delete(f.flags, creatorID)
	f.cleared = append(f.cleared, creatorID)
	return nil
}

func liveSessionAged(heartbeatAge time.Duration, now time.Time) models.Session {
	return models.Session{
		ID:                 uuid.New(),
		CreatorID:          uuid.New(),
		Tier:               0,
		Status:             models.SessionLive,
		ViewerCount:        3,
		PeakViewerCount:    7,
		TotalCoinsSpent:    420,
		MaxDurationSeconds: 1800,
		StartedAt:          now.Add(-20 * time.Minute),
		LastHeartbeatAt:    now.Add(-heartbeatAge),
	}
}

func TestRunResumesFreshSession(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := liveSessionAged(30*time.Second, now)

	source := &fakeSource{sessions: []models.Session{s}}
	lifecycle := &fakeLifecycle{}
	presence := newFakePresence()
	presence.flags[s.CreatorID] = s.ID

	c := NewCoordinator(source, lifecycle, presence, 2*time.Minute, nil)
	c.now = func() time.Time { return now }

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Resumed != 1 || report.ForceEnded != 0 {
		t.Fatalf("report = %+v, want 1 resumed", report)
	}
	if len(lifecycle.adopted) != 1 {
		t.Fatal("session not adopted")
	}
	got := lifecycle.adopted[0]
	if got.PeakViewerCount != 7 || got.TotalCoinsSpent != 420 {
		t.Fatal("adopted counters differ from the stored session")
	}
	if len(source.crashed) != 0 {
		t.Fatal("fresh session must not be marked crashed")
	}
}

func TestRunForceEndsStaleSession(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := liveSessionAged(150*time.Second, now)

	source := &fakeSource{sessions: []models.Session{s}}
	lifecycle := &fakeLifecycle{}
	presence := newFakePresence()

	c := NewCoordinator(source, lifecycle, presence, 2*time.Minute, nil)
	c.now = func() time.Time { return now }

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ForceEnded != 1 || report.Resumed != 0 {
		t.Fatalf("report = %+v, want 1 force-ended", report)
	}
	if len(source.crashed) != 1 || source.crashed[0] != s.ID {
		t.Fatal("stale session should be marked crashed before ending")
	}
	if len(lifecycle.ended) != 1 || lifecycle.ended[0] != s.CreatorID {
		t.Fatal("stale session should be ended through the normal path")
	}
}

func TestRunSkipsSecondCrashMarkForCrashedRows(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := liveSessionAged(time.Hour, now)
	s.Status = models.SessionCrashed

	source := &fakeSource{sessions: []models.Session{s}}
	lifecycle := &fakeLifecycle{}

	c := NewCoordinator(source, lifecycle, newFakePresence(), 2*time.Minute, nil)
	c.now = func() time.Time { return now }

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ForceEnded != 1 {
		t.Fatalf("report = %+v, want 1 force-ended", report)
	}
	if len(source.crashed) != 0 {
		t.Fatal("already-crashed row must not be re-marked")
	}
}

func TestRunRepairsMissingFlag(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := liveSessionAged(10*time.Second, now)

	source := &fakeSource{sessions: []models.Session{s}}
	presence := newFakePresence() // no flag for the creator

	c := NewCoordinator(source, &fakeLifecycle{}, presence, 2*time.Minute, nil)
	c.now = func() time.Time { return now }

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FlagsFixed != 1 {
		t.Fatalf("report = %+v, want 1 flag fixed", report)
	}
	if got := presence.flags[s.CreatorID]; got != s.ID {
		t.Fatal("flag not repaired to the live session")
	}
}

func TestRunClearsOrphanedFlags(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	orphan := uuid.New()

	source := &fakeSource{}
	presence := newFakePresence()
	presence.flags[orphan] = uuid.New()

	c := NewCoordinator(source, &fakeLifecycle{}, presence, 2*time.Minute, nil)
	c.now = func() time.Time { return now }

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FlagsFixed != 1 {
		t.Fatalf("report = %+v, want 1 flag cleared", report)
	}
	if len(presence.cleared) != 1 || presence.cleared[0] != orphan {
		t.Fatal("orphaned flag not cleared")
	}
}

func TestRunCountsPerSessionFailures(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	a := liveSessionAged(10*time.Second, now)
	b := liveSessionAged(20*time.Second, now)

	source := &fakeSource{sessions: []models.Session{a, b}}
	lifecycle := &fakeLifecycle{adoptErr: errors.New("duplicate creator")}

	c := NewCoordinator(source, &fakeLifecycleFirstFails{inner: lifecycle}, newFakePresence(), 2*time.Minute, nil)
	c.now = func() time.Time { return now }

	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 || report.Resumed != 1 {
		t.Fatalf("report = %+v, want one failure and one resume", report)
	}
}

// fakeLifecycleFirstFails rejects the first adopt and delegates the rest.
type fakeLifecycleFirstFails struct {
	inner *fakeLifecycle
	calls int
}

func (f *fakeLifecycleFirstFails) Adopt(s *models.Session) error {
	f.calls++
	if f.calls == 1 {
		return errors.New("adopt rejected")
	}
	f.inner.adoptErr = nil
	return f.inner.Adopt(s)
}

func (f *fakeLifecycleFirstFails) End(ctx context.Context, creatorID uuid.UUID) (*models.CompletionRecord, error) {
	return f.inner.End(ctx, creatorID)
}
