package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type sentEvent struct {
	connID string
	ev     Event
}

// fakeSender records every send in order, per the non-blocking Sender contract.
type fakeSender struct {
	mu    sync.Mutex
	sends []sentEvent
}

func (f *fakeSender) Send(_ uuid.UUID, connID string, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentEvent{connID: connID, ev: ev})
}

func (f *fakeSender) byType(t EventType) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, s := range f.sends {
		if s.ev.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = nil
}

type fakeResolver struct {
	valid map[Position]bool
	err   error
}

func (r *fakeResolver) ResolvePosition(_ context.Context, moduleID uuid.UUID, idx int) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.valid[Position{ModuleID: moduleID, SubmoduleIndex: idx}], nil
}

// testClock drives Session time deterministically.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Unix(1_700_000_000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestSession(sender Sender, resolver Resolver, cfg Config) (*Session, *testClock) {
	s := NewSession(uuid.New(), resolver, sender, cfg, nil)
	clock := newTestClock()
	s.now = clock.Now
	return s, clock
}

func TestRegisterSendsFullState(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{}, Config{})

	conn, err := s.Register("c1", RoleParticipant)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if conn.ID != "c1" || conn.Role != RoleParticipant {
		t.Fatalf("connection = %+v", conn)
	}

	regs := sender.byType(EventRegistered)
	if len(regs) != 1 || regs[0].connID != "c1" {
		t.Fatalf("registered events = %+v, want one to c1", regs)
	}
	payload, ok := regs[0].ev.Data.(RegisteredPayload)
	if !ok {
		t.Fatalf("payload type %T", regs[0].ev.Data)
	}
	if payload.Phase != PhaseIdle {
		t.Errorf("phase = %s, want idle before a presenter joins", payload.Phase)
	}
	if payload.ContentVersion == "" {
		t.Error("content version missing from registration payload")
	}
}

func TestLateJoinerReceivesCanonicalPosition(t *testing.T) {
	module := uuid.New()
	pos := Position{ModuleID: module, SubmoduleIndex: 2}
	resolver := &fakeResolver{valid: map[Position]bool{pos: true}}
	sender := &fakeSender{}
	s, _ := newTestSession(sender, resolver, Config{})

	s.Register("p", RolePresenter)
	if err := s.Navigate(context.Background(), "p", pos); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	sender.reset()

	// Participants joining after the navigation get the current position in
	// their registration payload, not default state.
	for _, id := range []string{"a", "b"} {
		if _, err := s.Register(id, RoleParticipant); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	regs := sender.byType(EventRegistered)
	if len(regs) != 2 {
		t.Fatalf("registered events = %d, want 2", len(regs))
	}
	for _, r := range regs {
		payload := r.ev.Data.(RegisteredPayload)
		if payload.Position != pos {
			t.Errorf("late joiner %s got position %+v, want %+v", r.connID, payload.Position, pos)
		}
	}
}

func TestDuplicatePresenterRejected(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{}, Config{})

	if _, err := s.Register("p1", RolePresenter); err != nil {
		t.Fatalf("first presenter: %v", err)
	}
	if _, err := s.Register("p2", RolePresenter); !errors.Is(err, ErrDuplicatePresenter) {
		t.Fatalf("second presenter: got %v, want ErrDuplicatePresenter", err)
	}
	// The rejected connection must not appear in the registry.
	for _, c := range s.Connections() {
		if c.ID == "p2" {
			t.Fatal("rejected presenter was registered")
		}
	}
}

func TestPresenterTimeoutAllowsTakeover(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{HeartbeatTimeout: 60 * time.Second}
	s, clock := newTestSession(sender, &fakeResolver{}, cfg)

	if _, err := s.Register("old", RolePresenter); err != nil {
		t.Fatalf("register presenter: %v", err)
	}
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase = %s, want live", got)
	}

	// While the presenter is fresh, takeover by registration fails.
	if _, err := s.Register("new", RolePresenter); !errors.Is(err, ErrDuplicatePresenter) {
		t.Fatalf("takeover against fresh presenter: %v", err)
	}

	// After the heartbeat timeout the stale presenter is swept during the new
	// registration, so the takeover succeeds without a manual sweep.
	clock.Advance(61 * time.Second)
	if _, err := s.Register("new", RolePresenter); err != nil {
		t.Fatalf("takeover after timeout: %v", err)
	}
	conns := s.ConnectionsByRole(RolePresenter)
	if len(conns) != 1 || conns[0].ID != "new" {
		t.Fatalf("presenters = %+v, want only new", conns)
	}
}

func TestSweepPresenterLost(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{HeartbeatTimeout: 60 * time.Second}
	s, clock := newTestSession(sender, &fakeResolver{}, cfg)

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)
	s.Register("o", RoleObserver)
	clock.Advance(30 * time.Second)
	s.Heartbeat("a", Position{})
	s.Heartbeat("o", Position{})
	clock.Advance(31 * time.Second)
	sender.reset()

	removed := s.Sweep()
	if len(removed) != 1 || removed[0].ID != "p" {
		t.Fatalf("removed = %+v, want presenter only", removed)
	}
	if got := s.Phase(); got != PhaseIdle {
		t.Fatalf("phase after presenter loss = %s, want idle", got)
	}

	// presenter:lost goes to the surviving connections.
	lost := sender.byType(EventPresenterLost)
	got := map[string]bool{}
	for _, e := range lost {
		got[e.connID] = true
	}
	if !got["a"] || !got["o"] {
		t.Errorf("presenter:lost recipients = %v, want a and o", got)
	}

	// Observers additionally get connection:left.
	left := sender.byType(EventConnectionLeft)
	if len(left) != 1 || left[0].connID != "o" {
		t.Errorf("connection:left = %+v, want one event to o", left)
	}
}

func TestClaimPresenterAfterLoss(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{HeartbeatTimeout: 60 * time.Second}
	s, clock := newTestSession(sender, &fakeResolver{}, cfg)

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)
	clock.Advance(30 * time.Second)
	s.Heartbeat("a", Position{})

	// Claim against a fresh presenter fails.
	if err := s.ClaimPresenter("a"); !errors.Is(err, ErrDuplicatePresenter) {
		t.Fatalf("claim against fresh presenter: %v", err)
	}

	// The claim itself sweeps the expired presenter first.
	clock.Advance(31 * time.Second)
	s.Heartbeat("a", Position{})
	if err := s.ClaimPresenter("a"); err != nil {
		t.Fatalf("claim after timeout: %v", err)
	}
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase after claim = %s, want live", got)
	}

	// Re-claiming by the current presenter is a no-op.
	if err := s.ClaimPresenter("a"); err != nil {
		t.Fatalf("re-claim by current presenter: %v", err)
	}
	if err := s.ClaimPresenter("ghost"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("claim by unknown connection: %v", err)
	}
}

func TestNavigate(t *testing.T) {
	module := uuid.New()
	resolver := &fakeResolver{valid: map[Position]bool{
		{ModuleID: module, SubmoduleIndex: 2}: true,
	}}
	sender := &fakeSender{}
	s, _ := newTestSession(sender, resolver, Config{})

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)
	s.Register("o", RoleObserver)
	sender.reset()

	pos := Position{ModuleID: module, SubmoduleIndex: 2}

	if err := s.Navigate(context.Background(), "a", pos); !errors.Is(err, ErrNotPresenter) {
		t.Fatalf("navigate by participant: %v", err)
	}
	if err := s.Navigate(context.Background(), "p", Position{ModuleID: module, SubmoduleIndex: 99}); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("navigate to invalid position: %v", err)
	}
	if got := s.Snapshot().Position; got != (Position{}) {
		t.Fatalf("state mutated by rejected navigation: %+v", got)
	}

	if err := s.Navigate(context.Background(), "p", pos); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if got := s.Snapshot().Position; got != pos {
		t.Fatalf("position = %+v, want %+v", got, pos)
	}

	changes := sender.byType(EventPositionChange)
	recipients := map[string]bool{}
	for _, e := range changes {
		recipients[e.connID] = true
		payload := e.ev.Data.(PositionPayload)
		if payload.Position != pos {
			t.Errorf("broadcast position = %+v, want %+v", payload.Position, pos)
		}
	}
	if !recipients["a"] || !recipients["o"] || recipients["p"] {
		t.Errorf("position:changed recipients = %v, want participant and observer only", recipients)
	}
}

func TestNavigateResolverError(t *testing.T) {
	resolverErr := errors.New("store unavailable")
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{err: resolverErr}, Config{})
	s.Register("p", RolePresenter)

	err := s.Navigate(context.Background(), "p", Position{ModuleID: uuid.New()})
	if !errors.Is(err, resolverErr) {
		t.Fatalf("got %v, want resolver error", err)
	}
}

func TestForceResyncIdempotent(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{}, Config{})

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)

	if err := s.ForceResync("a"); !errors.Is(err, ErrNotPresenter) {
		t.Fatalf("resync by participant: %v", err)
	}

	sender.reset()
	if err := s.ForceResync("p"); err != nil {
		t.Fatalf("resync: %v", err)
	}
	first := sender.byType(EventSyncState)

	sender.reset()
	if err := s.ForceResync("p"); err != nil {
		t.Fatalf("second resync: %v", err)
	}
	second := sender.byType(EventSyncState)

	if len(first) != len(second) {
		t.Fatalf("resync fan-out differs between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ev.Data.(StatePayload) != second[i].ev.Data.(StatePayload) {
			t.Fatal("repeated resync produced a different state payload")
		}
	}
}

func TestHeartbeatDriftCorrection(t *testing.T) {
	module := uuid.New()
	canonical := Position{ModuleID: module, SubmoduleIndex: 3}
	resolver := &fakeResolver{valid: map[Position]bool{canonical: true}}
	sender := &fakeSender{}
	cfg := Config{DriftGrace: 10 * time.Second}
	s, clock := newTestSession(sender, resolver, cfg)

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)
	if err := s.Navigate(context.Background(), "p", canonical); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	sender.reset()

	stale := Position{ModuleID: module, SubmoduleIndex: 1}

	// First divergent heartbeat starts the grace clock, no resend yet.
	s.Heartbeat("a", stale)
	if got := sender.byType(EventPositionChange); len(got) != 0 {
		t.Fatalf("resend before grace elapsed: %+v", got)
	}

	// Still within grace.
	clock.Advance(5 * time.Second)
	s.Heartbeat("a", stale)
	if got := sender.byType(EventPositionChange); len(got) != 0 {
		t.Fatalf("resend within grace: %+v", got)
	}

	// Past the grace the canonical position is re-sent to that one connection.
	clock.Advance(6 * time.Second)
	s.Heartbeat("a", stale)
	resends := sender.byType(EventPositionChange)
	if len(resends) != 1 || resends[0].connID != "a" {
		t.Fatalf("resends = %+v, want one targeted at a", resends)
	}
	if got := resends[0].ev.Data.(PositionPayload).Position; got != canonical {
		t.Fatalf("resent position = %+v, want canonical %+v", got, canonical)
	}

	// A converged heartbeat clears the drift state; diverging again restarts
	// the grace period instead of resending immediately.
	sender.reset()
	s.Heartbeat("a", canonical)
	clock.Advance(time.Second)
	s.Heartbeat("a", stale)
	if got := sender.byType(EventPositionChange); len(got) != 0 {
		t.Fatalf("resend right after re-divergence: %+v", got)
	}

	if err := s.Heartbeat("ghost", stale); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("heartbeat from unknown connection: %v", err)
	}
}

func TestSubmitMoodBroadcastsToObserversOnly(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{}, Config{})
	module := uuid.New()

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)
	s.Register("b", RoleParticipant)
	s.Register("o", RoleObserver)
	sender.reset()

	if err := s.SubmitMood("ghost", MoodAha, module); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("mood from unknown participant: %v", err)
	}
	if err := s.SubmitMood("o", MoodAha, module); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("mood from observer: %v", err)
	}

	if err := s.SubmitMood("a", MoodAha, module); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.SubmitMood("b", MoodAha, module); err != nil {
		t.Fatalf("submit: %v", err)
	}

	tallies := sender.byType(EventMoodTally)
	for _, e := range tallies {
		if e.connID != "o" {
			t.Errorf("mood:tally leaked to %s", e.connID)
		}
	}
	if len(tallies) != 2 {
		t.Fatalf("tally events = %d, want 2", len(tallies))
	}
	last := tallies[len(tallies)-1].ev.Data.(TallyPayload)
	if last.ModuleID != module || last.Tally[MoodAha] != 2 {
		t.Fatalf("final tally = %+v, want aha:2 for module", last)
	}
}

func TestSubmitMoodWithinDepartureGrace(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{DepartureGrace: 10 * time.Second}
	s, clock := newTestSession(sender, &fakeResolver{}, cfg)
	module := uuid.New()

	s.Register("a", RoleParticipant)
	s.Unregister("a")

	// In-flight events from a just-disconnected participant still count.
	if err := s.SubmitMood("a", MoodConfused, module); err != nil {
		t.Fatalf("mood within grace: %v", err)
	}

	clock.Advance(11 * time.Second)
	if err := s.SubmitMood("a", MoodConfused, module); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("mood after grace: %v", err)
	}
}

func TestResetMoodArchivesSnapshot(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{}, Config{})
	module := uuid.New()

	var (
		mu       sync.Mutex
		archived Tally
	)
	s.onTally = func(_ uuid.UUID, moduleID uuid.UUID, tally Tally) {
		mu.Lock()
		defer mu.Unlock()
		if moduleID == module {
			archived = tally
		}
	}

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)
	s.Register("o", RoleObserver)
	s.SubmitMood("a", MoodOverwhelmed, module)

	if err := s.ResetMood("a", module); !errors.Is(err, ErrNotPresenter) {
		t.Fatalf("reset by participant: %v", err)
	}

	sender.reset()
	if err := s.ResetMood("p", module); err != nil {
		t.Fatalf("reset: %v", err)
	}

	mu.Lock()
	if archived[MoodOverwhelmed] != 1 {
		t.Errorf("archived tally = %+v, want overwhelmed:1", archived)
	}
	mu.Unlock()

	// Observers see the cleared tally.
	tallies := sender.byType(EventMoodTally)
	if len(tallies) != 1 || tallies[0].connID != "o" {
		t.Fatalf("tally events after reset = %+v", tallies)
	}
	if got := tallies[0].ev.Data.(TallyPayload).Tally; len(got) != 0 {
		t.Errorf("broadcast tally after reset = %+v, want empty", got)
	}
	if got := s.MoodSnapshot(0)[module]; len(got) != 0 {
		t.Errorf("snapshot after reset = %+v, want empty", got)
	}
}

func TestSetContentVersion(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{}, Config{})

	s.Register("p", RolePresenter)
	s.Register("a", RoleParticipant)
	sender.reset()

	s.SetContentVersion("7")
	syncs := sender.byType(EventSyncState)
	if len(syncs) != 2 {
		t.Fatalf("sync events = %d, want broadcast to both connections", len(syncs))
	}
	if got := syncs[0].ev.Data.(StatePayload).ContentVersion; got != "7" {
		t.Fatalf("broadcast version = %s, want 7", got)
	}

	// Announcing the current version again is a no-op.
	sender.reset()
	s.SetContentVersion("7")
	if got := sender.byType(EventSyncState); len(got) != 0 {
		t.Fatalf("re-announcing current version broadcast %d events", len(got))
	}
}

func TestPhaseTransitions(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestSession(sender, &fakeResolver{}, Config{})

	if got := s.Phase(); got != PhaseIdle {
		t.Fatalf("initial phase = %s, want idle", got)
	}

	s.Register("p", RolePresenter)
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase with presenter = %s, want live", got)
	}

	if err := s.SetAutoPlay("p", false); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := s.Phase(); got != PhasePaused {
		t.Fatalf("phase with autoplay off = %s, want paused", got)
	}

	if err := s.SetAutoPlay("p", true); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase after resume = %s, want live", got)
	}

	s.Unregister("p")
	if got := s.Phase(); got != PhaseIdle {
		t.Fatalf("phase after presenter left = %s, want idle", got)
	}
}

func TestDepartureHandlerReceivesAttendanceSpan(t *testing.T) {
	sender := &fakeSender{}
	s, clock := newTestSession(sender, &fakeResolver{}, Config{})

	done := make(chan Connection, 1)
	s.onDeparture = func(_ uuid.UUID, conn Connection, leftAt time.Time) {
		if !leftAt.After(conn.ConnectedAt) {
			t.Errorf("leftAt %v not after ConnectedAt %v", leftAt, conn.ConnectedAt)
		}
		done <- conn
	}

	s.Register("a", RoleParticipant)
	clock.Advance(time.Minute)
	s.Unregister("a")

	select {
	case conn := <-done:
		if conn.ID != "a" || conn.Role != RoleParticipant {
			t.Fatalf("departed connection = %+v", conn)
		}
	case <-time.After(time.Second):
		t.Fatal("departure handler was not called")
	}
}
